// Package ipc is the JSON-line control channel between a running assistant
// and the CLI commands that query or stop it.
package ipc

const (
	CommandStatus = "status"
	CommandStop   = "stop"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Cycles  int    `json:"cycles,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
