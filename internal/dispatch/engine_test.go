package dispatch

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"wagate/internal/bus"
	"wagate/internal/msglog"
)

// mockGateway records calls and returns configurable results.
type mockGateway struct {
	ready      bool
	sendErr    error
	registered map[string]bool // nil means everything registered
	calls      []sendCall
	typing     []string
}

type sendCall struct {
	Address string
	Body    string
}

func (m *mockGateway) IsReady() bool { return m.ready }

func (m *mockGateway) SendText(_ context.Context, address, body string) (string, error) {
	m.calls = append(m.calls, sendCall{Address: address, Body: body})
	if m.sendErr != nil {
		return "", m.sendErr
	}
	return "server-" + address, nil
}

func (m *mockGateway) SetTyping(address string, typing bool) error {
	m.typing = append(m.typing, fmt.Sprintf("%s:%v", address, typing))
	return nil
}

func (m *mockGateway) CheckRegistered(_ context.Context, number string) (bool, error) {
	if m.registered == nil {
		return true, nil
	}
	return m.registered[number], nil
}

func newTestEngine(gw *mockGateway, opts Options) (*Engine, *msglog.Ring) {
	ring := msglog.NewRing(100)
	e := NewEngine(gw, ring, bus.New(), zap.NewNop(), opts)
	e.sleep = func(context.Context, time.Duration) {}
	return e, ring
}

func TestSendMessageWhenDisconnected(t *testing.T) {
	gw := &mockGateway{ready: false}
	e, ring := newTestEngine(gw, Options{})

	res := e.SendMessage(context.Background(), "081234567890", "hello")

	if res.Success || res.Status != StatusDisconnected {
		t.Errorf("result = %+v, want disconnected failure", res)
	}
	if len(gw.calls) != 0 {
		t.Errorf("transport calls = %d, want 0 when not ready", len(gw.calls))
	}
	if ring.Len() != 0 {
		t.Errorf("log entries = %d, want 0 (no attempt made)", ring.Len())
	}
}

func TestSendMessageSuccess(t *testing.T) {
	gw := &mockGateway{ready: true}
	e, ring := newTestEngine(gw, Options{})

	res := e.SendMessage(context.Background(), "081234567890", "hello")

	if !res.Success || res.Status != StatusSent {
		t.Fatalf("result = %+v, want sent", res)
	}
	if res.Target != "6281234567890" {
		t.Errorf("target = %q, want normalized 6281234567890", res.Target)
	}
	if res.MessageID == "" {
		t.Error("message ID missing on sent result")
	}
	if len(gw.calls) != 1 || gw.calls[0].Address != "6281234567890@s.whatsapp.net" {
		t.Errorf("calls = %+v, want one to 6281234567890@s.whatsapp.net", gw.calls)
	}

	entries := ring.Recent()
	if len(entries) != 1 || !entries[0].Success {
		t.Errorf("log = %+v, want one success entry", entries)
	}
}

func TestSendMessageTransportFailure(t *testing.T) {
	gw := &mockGateway{ready: true, sendErr: fmt.Errorf("websocket closed")}
	e, ring := newTestEngine(gw, Options{})

	res := e.SendMessage(context.Background(), "081234567890", "hello")

	if res.Success || res.Status != StatusError {
		t.Fatalf("result = %+v, want error", res)
	}
	if res.Error == "" {
		t.Error("error detail missing")
	}
	if res.MessageID != "" {
		t.Error("message ID must be empty on failure")
	}
	entries := ring.Recent()
	if len(entries) != 1 || entries[0].Success {
		t.Errorf("log = %+v, want one failure entry", entries)
	}
}

func TestErrorDetailTruncatedOnRuneBoundary(t *testing.T) {
	detail := strings.Repeat("日", errDetailLimit+50)
	gw := &mockGateway{ready: true, sendErr: fmt.Errorf("%s", detail)}
	e, _ := newTestEngine(gw, Options{})

	res := e.SendMessage(context.Background(), "081234567890", "hello")

	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !utf8.ValidString(res.Error) {
		t.Error("error detail is not valid UTF-8 after truncation")
	}
	if got := utf8.RuneCountInString(res.Error); got != errDetailLimit {
		t.Errorf("error detail runes = %d, want %d", got, errDetailLimit)
	}
}

func TestSendMessageInvalidNumber(t *testing.T) {
	gw := &mockGateway{ready: true, registered: map[string]bool{"6281234567890": false}}
	e, _ := newTestEngine(gw, Options{NumberCheck: true})

	res := e.SendMessage(context.Background(), "081234567890", "hello")

	if res.Status != StatusInvalidNumber {
		t.Fatalf("status = %q, want invalid_number", res.Status)
	}
	if len(gw.calls) != 0 {
		t.Errorf("transport calls = %d, want 0 for unregistered number", len(gw.calls))
	}
}

func TestBroadcastOrderAndPacing(t *testing.T) {
	gw := &mockGateway{ready: true}
	ring := msglog.NewRing(100)
	e := NewEngine(gw, ring, bus.New(), zap.NewNop(), Options{MessageDelay: time.Second})

	var pauses []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) { pauses = append(pauses, d) }

	targets := []string{"081111111111", "082222222222", "083333333333"}
	results := e.SendBroadcast(context.Background(), targets, "hi")

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	wantOrder := []string{
		"6281111111111@s.whatsapp.net",
		"6282222222222@s.whatsapp.net",
		"6283333333333@s.whatsapp.net",
	}
	for i, w := range wantOrder {
		if gw.calls[i].Address != w {
			t.Errorf("call[%d] = %q, want %q", i, gw.calls[i].Address, w)
		}
	}
	// Two pauses for three targets: between pairs, never after the last.
	if len(pauses) != 2 {
		t.Errorf("pauses = %d, want 2", len(pauses))
	}
	for _, d := range pauses {
		if d != time.Second {
			t.Errorf("pause = %v, want 1s", d)
		}
	}
}

func TestBroadcastPartialFailure(t *testing.T) {
	gw := &mockGateway{ready: true, registered: map[string]bool{
		"6281111111111": true,
		"6282222222222": false,
		"6283333333333": true,
	}}
	e, _ := newTestEngine(gw, Options{NumberCheck: true})

	results := e.SendBroadcast(context.Background(),
		[]string{"081111111111", "082222222222", "083333333333"}, "hi")

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3 even with one failure", len(results))
	}
	sent, failed := Summarize(results)
	if sent != 2 || failed != 1 {
		t.Errorf("sent/failed = %d/%d, want 2/1", sent, failed)
	}
	if results[1].Status != StatusInvalidNumber {
		t.Errorf("middle result = %+v, want invalid_number", results[1])
	}
}

func TestDailyLimitEnforced(t *testing.T) {
	gw := &mockGateway{ready: true}
	e, _ := newTestEngine(gw, Options{DailyLimit: 2})

	for i := 0; i < 2; i++ {
		if res := e.SendMessage(context.Background(), "081234567890", "hi"); !res.Success {
			t.Fatalf("send %d = %+v, want success", i, res)
		}
	}
	res := e.SendMessage(context.Background(), "081234567890", "hi")
	if res.Success || res.Status != StatusError {
		t.Fatalf("over-limit result = %+v, want error", res)
	}
	if len(gw.calls) != 2 {
		t.Errorf("transport calls = %d, want 2 (limit blocked the third)", len(gw.calls))
	}
}

func TestDailyLimitRollsOverAtMidnight(t *testing.T) {
	now := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	gw := &mockGateway{ready: true}
	e, _ := newTestEngine(gw, Options{DailyLimit: 1, Now: clock})

	if res := e.SendMessage(context.Background(), "081234567890", "hi"); !res.Success {
		t.Fatalf("first send = %+v", res)
	}
	if res := e.SendMessage(context.Background(), "081234567890", "hi"); res.Success {
		t.Fatal("second send should hit the ceiling")
	}

	// Day changes; the counter must reset before the next limit check.
	now = now.Add(2 * time.Hour)
	if res := e.SendMessage(context.Background(), "081234567890", "hi"); !res.Success {
		t.Fatalf("post-rollover send = %+v, want success", res)
	}
}

func TestTypingSimulation(t *testing.T) {
	gw := &mockGateway{ready: true}
	e, _ := newTestEngine(gw, Options{TypingSimulation: true})

	e.SendMessage(context.Background(), "081234567890", "hello")

	want := []string{
		"6281234567890@s.whatsapp.net:true",
		"6281234567890@s.whatsapp.net:false",
	}
	if len(gw.typing) != 2 || gw.typing[0] != want[0] || gw.typing[1] != want[1] {
		t.Errorf("typing toggles = %v, want %v", gw.typing, want)
	}
}

func TestLenientTargetPassesThrough(t *testing.T) {
	gw := &mockGateway{ready: true}
	e, _ := newTestEngine(gw, Options{})

	// Too short to normalize; still attempted, the transport decides.
	res := e.SendMessage(context.Background(), "123", "hi")
	if !res.Success {
		t.Fatalf("result = %+v, want attempted send", res)
	}
	if gw.calls[0].Address != "123@s.whatsapp.net" {
		t.Errorf("address = %q, want raw pass-through", gw.calls[0].Address)
	}
}

func TestCounterDirect(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c := NewDailyCounter(5, func() time.Time { return now })

	c.Increment()
	c.Increment()
	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
	if !c.Allow() {
		t.Error("Allow() = false under the ceiling")
	}

	now = now.AddDate(0, 0, 1)
	if c.Count() != 0 {
		t.Errorf("Count() after rollover = %d, want 0", c.Count())
	}
}
