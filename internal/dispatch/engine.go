// Package dispatch turns validated send requests into transport calls,
// serialized with a configurable inter-message delay and optional
// anti-abuse throttling. Every per-message failure is converted to a
// Result here; nothing below the HTTP boundary ever raises.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wagate/internal/bus"
	"wagate/internal/msglog"
	"wagate/internal/phone"
)

// Dispatch outcome statuses.
const (
	StatusSent          = "sent"
	StatusError         = "error"
	StatusDisconnected  = "disconnected"
	StatusInvalidNumber = "invalid_number"
)

// errDetailLimit bounds how much of a transport error reaches callers.
const errDetailLimit = 200

// typingCap bounds the simulated composing pause.
const typingCap = 3 * time.Second

// Result is the outcome of one dispatch attempt.
type Result struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Target    string `json:"target"`
	MessageID string `json:"id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Gateway is the connection manager surface the engine needs. The
// manager implements it; tests substitute fakes.
type Gateway interface {
	IsReady() bool
	SendText(ctx context.Context, address, body string) (string, error)
	SetTyping(address string, typing bool) error
	CheckRegistered(ctx context.Context, number string) (bool, error)
}

// Options configures engine policy.
type Options struct {
	MessageDelay     time.Duration // pause between broadcast sends
	CountryPrefix    string
	DailyLimit       int  // 0 disables the daily ceiling
	TypingSimulation bool // show a composing indicator before each send
	NumberCheck      bool // pre-check registration, reports invalid_number
	Now              func() time.Time
}

// Engine serializes outbound message dispatch.
type Engine struct {
	gw     Gateway
	log    *msglog.Ring
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	counter *DailyCounter

	// sleep is injected by tests to observe pacing.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine creates a dispatch engine.
func NewEngine(gw Gateway, ring *msglog.Ring, b *bus.Bus, logger *zap.Logger, opts Options) *Engine {
	if opts.CountryPrefix == "" {
		opts.CountryPrefix = phone.DefaultCountryPrefix
	}
	e := &Engine{
		gw:     gw,
		log:    ring,
		bus:    b,
		logger: logger,
		opts:   opts,
		sleep:  sleepCtx,
	}
	if opts.DailyLimit > 0 {
		e.counter = NewDailyCounter(opts.DailyLimit, opts.Now)
	}
	return e
}

// SendMessage dispatches one message. Never returns an error: every
// failure mode is folded into the Result so the API surface can always
// answer with structured JSON.
func (e *Engine) SendMessage(ctx context.Context, target, body string) Result {
	if !e.gw.IsReady() {
		return Result{Status: StatusDisconnected, Target: target, Error: "session not connected"}
	}

	normalized, ok := phone.Normalize(target, e.opts.CountryPrefix)
	if !ok {
		e.logger.Warn("target outside plausible number range, passing through",
			zap.String("target", target))
	}

	if e.counter != nil && !e.counter.Allow() {
		return Result{
			Status: StatusError,
			Target: normalized,
			Error:  "daily message limit reached, resets at midnight",
		}
	}

	if e.opts.NumberCheck {
		registered, err := e.gw.CheckRegistered(ctx, normalized)
		if err != nil {
			// Best effort; the send itself is the real validation.
			e.logger.Warn("registration check failed", zap.Error(err))
		} else if !registered {
			e.record(normalized, body, Result{Status: StatusInvalidNumber, Target: normalized,
				Error: "number not registered on WhatsApp"})
			return Result{Status: StatusInvalidNumber, Target: normalized,
				Error: "number not registered on WhatsApp"}
		}
	}

	address := phone.ToAddressable(normalized, e.opts.CountryPrefix)

	if e.opts.TypingSimulation {
		e.simulateTyping(ctx, address, body)
	}

	id, err := e.gw.SendText(ctx, address, body)
	if err != nil {
		e.logger.Error("send failed", zap.String("target", normalized), zap.Error(err))
		res := Result{Status: StatusError, Target: normalized, Error: truncate(err.Error(), errDetailLimit)}
		e.record(normalized, body, res)
		return res
	}

	if e.counter != nil {
		e.counter.Increment()
	}
	res := Result{Success: true, Status: StatusSent, Target: normalized, MessageID: id}
	e.logger.Info("message sent", zap.String("target", normalized), zap.String("id", id))
	e.record(normalized, body, res)
	return res
}

// SendBroadcast dispatches body to every target in input order, pausing
// MessageDelay between successive sends (not after the last). One
// failure does not abort the remaining targets.
func (e *Engine) SendBroadcast(ctx context.Context, targets []string, body string) []Result {
	results := make([]Result, 0, len(targets))
	for i, target := range targets {
		if i > 0 && e.opts.MessageDelay > 0 {
			e.sleep(ctx, e.opts.MessageDelay)
		}
		results = append(results, e.SendMessage(ctx, target, body))
	}
	return results
}

// Summarize counts broadcast outcomes for aggregate status mapping.
func Summarize(results []Result) (sent, failed int) {
	for _, r := range results {
		if r.Success {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

func (e *Engine) simulateTyping(ctx context.Context, address, body string) {
	if err := e.gw.SetTyping(address, true); err != nil {
		return
	}
	d := time.Duration(len(body)) * 50 * time.Millisecond
	if d > typingCap {
		d = typingCap
	}
	e.sleep(ctx, d)
	_ = e.gw.SetTyping(address, false)
}

func (e *Engine) record(target, body string, res Result) {
	e.log.Append(msglog.Entry{
		Timestamp: time.Now(),
		Target:    target,
		Excerpt:   body,
		Success:   res.Success,
		MessageID: res.MessageID,
		Error:     res.Error,
	})
	kind := "dispatch.sent"
	if !res.Success {
		kind = "dispatch.failed"
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: res})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// truncate bounds s to n runes without splitting multi-byte sequences.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
