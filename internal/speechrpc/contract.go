package speechrpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	TranscriberService = "aeris.speech.v1.Transcriber"
	WakeWordService    = "aeris.speech.v1.WakeWord"

	TranscribeMethod = "/" + TranscriberService + "/Transcribe"
	DetectMethod     = "/" + WakeWordService + "/Detect"
)

// Metadata keys carried on each call.
const (
	MetaSampleRate  = "x-aeris-sample-rate"
	MetaLanguage    = "x-aeris-language"
	MetaSensitivity = "x-aeris-sensitivity"
	MetaFrameLength = "x-aeris-frame-length"
)

// TranscribeRequest is one mono float waveform to recognize.
type TranscribeRequest struct {
	Waveform   []float32
	SampleRate int
	Language   string
}

// Transcribe issues the unary Transcribe call.
func Transcribe(ctx context.Context, conn grpc.ClientConnInterface, req TranscribeRequest) (string, error) {
	md := metadata.Pairs(
		MetaSampleRate, strconv.Itoa(req.SampleRate),
		MetaLanguage, req.Language,
	)
	ctx = metadata.NewOutgoingContext(ctx, md)

	in := wrapperspb.Bytes(EncodeFloat32LE(req.Waveform))
	out := new(wrapperspb.StringValue)
	if err := conn.Invoke(ctx, TranscribeMethod, in, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// DetectConfig parameterizes one detection stream.
type DetectConfig struct {
	SampleRate  int
	FrameLength int
	Sensitivity float64
}

var detectStreamDesc = grpc.StreamDesc{
	StreamName:    "Detect",
	ServerStreams: true,
	ClientStreams: true,
}

// DetectStream is the client side of one Detect stream: one frame in, one
// keyword index out.
type DetectStream struct {
	stream grpc.ClientStream
}

// OpenDetect starts a Detect stream. The stream lives until ctx is done or
// CloseSend is called.
func OpenDetect(ctx context.Context, conn grpc.ClientConnInterface, cfg DetectConfig) (*DetectStream, error) {
	md := metadata.Pairs(
		MetaSampleRate, strconv.Itoa(cfg.SampleRate),
		MetaFrameLength, strconv.Itoa(cfg.FrameLength),
		MetaSensitivity, strconv.FormatFloat(cfg.Sensitivity, 'f', -1, 64),
	)
	ctx = metadata.NewOutgoingContext(ctx, md)

	stream, err := conn.NewStream(ctx, &detectStreamDesc, DetectMethod)
	if err != nil {
		return nil, err
	}
	return &DetectStream{stream: stream}, nil
}

// Process sends one frame and waits for its keyword index (-1 for none).
func (s *DetectStream) Process(frame []int16) (int, error) {
	if err := s.stream.SendMsg(wrapperspb.Bytes(EncodeInt16LE(frame))); err != nil {
		return -1, err
	}
	out := new(wrapperspb.Int32Value)
	if err := s.stream.RecvMsg(out); err != nil {
		return -1, err
	}
	return int(out.GetValue()), nil
}

// CloseSend half-closes the stream.
func (s *DetectStream) CloseSend() error {
	return s.stream.CloseSend()
}

// TranscriberServer is implemented by sidecars serving Transcribe.
type TranscriberServer interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (string, error)
}

// WakeWordServer is implemented by sidecars serving Detect. Process is called
// once per received frame, in order.
type WakeWordServer interface {
	Process(ctx context.Context, cfg DetectConfig, frame []int16) (int, error)
}

// RegisterTranscriberServer registers srv on s.
func RegisterTranscriberServer(s grpc.ServiceRegistrar, srv TranscriberServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: TranscriberService,
		HandlerType: (*TranscriberServer)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Transcribe",
			Handler:    transcribeHandler,
		}},
		Metadata: "aeris/speech/v1/speech.proto",
	}, srv)
}

// RegisterWakeWordServer registers srv on s.
func RegisterWakeWordServer(s grpc.ServiceRegistrar, srv WakeWordServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: WakeWordService,
		HandlerType: (*WakeWordServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "Detect",
			Handler:       detectHandler,
			ServerStreams: true,
			ClientStreams: true,
		}},
		Metadata: "aeris/speech/v1/speech.proto",
	}, srv)
}

func transcribeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	call := func(ctx context.Context, req any) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		text, err := srv.(TranscriberServer).Transcribe(ctx, TranscribeRequest{
			Waveform:   DecodeFloat32LE(req.(*wrapperspb.BytesValue).GetValue()),
			SampleRate: metaInt(md, MetaSampleRate),
			Language:   metaString(md, MetaLanguage),
		})
		if err != nil {
			return nil, err
		}
		return wrapperspb.String(text), nil
	}

	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TranscribeMethod}
	return interceptor(ctx, in, info, call)
}

func detectHandler(srv any, stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)
	sensitivity, _ := strconv.ParseFloat(metaString(md, MetaSensitivity), 64)
	cfg := DetectConfig{
		SampleRate:  metaInt(md, MetaSampleRate),
		FrameLength: metaInt(md, MetaFrameLength),
		Sensitivity: sensitivity,
	}
	if cfg.FrameLength <= 0 {
		return status.Error(codes.InvalidArgument, "frame length metadata is required")
	}

	for {
		in := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame := DecodeInt16LE(in.GetValue())
		if len(frame) != cfg.FrameLength {
			return status.Error(codes.InvalidArgument, fmt.Sprintf("frame has %d samples, want %d", len(frame), cfg.FrameLength))
		}
		index, err := srv.(WakeWordServer).Process(ctx, cfg, frame)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(wrapperspb.Int32(int32(index))); err != nil {
			return err
		}
	}
}

func metaString(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func metaInt(md metadata.MD, key string) int {
	v, _ := strconv.Atoi(metaString(md, key))
	return v
}

// EncodeFloat32LE serializes samples as little-endian IEEE-754 floats.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE-754 floats.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// EncodeInt16LE serializes samples as little-endian s16.
func EncodeInt16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeInt16LE parses little-endian s16.
func DecodeInt16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
