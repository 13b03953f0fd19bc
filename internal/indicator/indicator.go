// Package indicator tells the user where the assistant is in its cycle with
// short audio cues and optional desktop notifications.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/aeris/internal/audio"
	"github.com/rbright/aeris/internal/config"
)

const (
	cueTimeout    = time.Second
	notifyTimeout = 400 * time.Millisecond
)

// Controller is the cycle-facing indicator contract.
type Controller interface {
	CueWake(context.Context)
	ShowThinking(context.Context)
	CueComplete(context.Context)
	CueError(context.Context, string)
	CueShutdown(context.Context)
}

// Cues plays cues through a file player or synthesized tones, and mirrors the
// cycle state in a replaceable desktop notification when enabled.
type Cues struct {
	cfg      config.IndicatorConfig
	player   audio.Player
	logger   *slog.Logger
	messages messages

	soundMu sync.Mutex

	mu                    sync.Mutex
	desktopNotificationID uint32
}

// New builds Cues. player renders the synthesized tones; nil disables them
// while file cues still play.
func New(cfg config.IndicatorConfig, player audio.Player, logger *slog.Logger) *Cues {
	return &Cues{
		cfg:      cfg,
		player:   player,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// CueWake signals that the trigger fired and recording has begun.
func (c *Cues) CueWake(ctx context.Context) {
	c.playCue(ctx, cueWake)
	c.notify(ctx, 0, c.messages.listening)
}

// ShowThinking signals that the prompt is being answered.
func (c *Cues) ShowThinking(ctx context.Context) {
	c.notify(ctx, 0, c.messages.thinking)
}

// CueComplete signals a finished reply.
func (c *Cues) CueComplete(ctx context.Context) {
	c.playCue(ctx, cueComplete)
	c.dismiss(ctx)
}

// CueError signals a degraded cycle.
func (c *Cues) CueError(ctx context.Context, text string) {
	c.playCue(ctx, cueError)
	if text == "" {
		text = c.messages.errorText
	}
	timeout := c.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	c.notify(ctx, timeout, text)
}

// CueShutdown signals the loop is exiting.
func (c *Cues) CueShutdown(ctx context.Context) {
	c.playCue(ctx, cueShutdown)
	c.dismiss(ctx)
}

// playCue is synchronous so a cue never overlaps the next stage's device use.
func (c *Cues) playCue(ctx context.Context, kind cueKind) {
	if !c.cfg.SoundEnable {
		return
	}
	c.soundMu.Lock()
	defer c.soundMu.Unlock()

	cueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cueTimeout)
	defer cancel()
	if err := c.emitCue(cueCtx, kind); err != nil {
		c.log("indicator audio cue failed", err)
	}
}

func (c *Cues) notify(ctx context.Context, timeoutMS int, text string) {
	if !c.cfg.NotifyEnable {
		return
	}
	c.run(ctx, func(ctx context.Context) error {
		c.mu.Lock()
		replaceID := c.desktopNotificationID
		c.mu.Unlock()

		appName := strings.TrimSpace(c.cfg.NotifyAppName)
		if appName == "" {
			appName = "aeris"
		}

		id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
		if err != nil {
			return err
		}

		c.mu.Lock()
		c.desktopNotificationID = id
		c.mu.Unlock()
		return nil
	})
}

func (c *Cues) dismiss(ctx context.Context) {
	if !c.cfg.NotifyEnable {
		return
	}
	c.run(ctx, func(ctx context.Context) error {
		c.mu.Lock()
		id := c.desktopNotificationID
		c.desktopNotificationID = 0
		c.mu.Unlock()

		if id == 0 {
			return nil
		}
		return desktopDismiss(ctx, id)
	})
}

// run executes a notification operation with a bounded timeout.
func (c *Cues) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		c.log("indicator dispatch failed", err)
	}
}

func (c *Cues) log(message string, err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Debug(message, "error", err.Error())
}
