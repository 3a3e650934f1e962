// Package wa binds the gateway to WhatsApp through whatsmeow. It is the
// only package that touches the wire library; everything above it speaks
// the conn.Transport interface.
package wa

import (
	"context"
	"fmt"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"wagate/internal/conn"

	_ "github.com/mattn/go-sqlite3"
)

// typingMedia marks the composing indicator as plain-text typing.
var typingMedia = types.ChatPresenceMediaText

// Adapter wraps the whatsmeow client as a conn.Transport.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
}

var _ conn.Transport = (*Adapter)(nil)

// NewAdapter creates a transport handle bound to the persistent
// credential store under authFolder.
func NewAdapter(ctx context.Context, authFolder string, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked-devices list.
	wastore.SetOSInfo("wagate", [3]uint32{1, 0, 0})

	dbPath := filepath.Join(authFolder, "session.db")
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
	}, nil
}

// IsLoggedIn reports whether stored credentials exist.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect opens the websocket connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect closes the connection without touching credentials.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// Subscribe translates whatsmeow events into transport lifecycle events.
func (a *Adapter) Subscribe(handler func(conn.LifecycleEvent)) {
	a.client.AddEventHandler(func(rawEvt any) {
		switch evt := rawEvt.(type) {
		case *events.Connected:
			handler(conn.LifecycleEvent{Kind: conn.LifecycleReady, Phone: a.PhoneNumber()})
		case *events.Disconnected:
			handler(conn.LifecycleEvent{Kind: conn.LifecycleClosed})
		case *events.LoggedOut:
			handler(conn.LifecycleEvent{Kind: conn.LifecycleLoggedOut, Detail: evt.Reason.String()})
		}
	})
}

// PairingEvents adapts the whatsmeow QR channel. Must be called before
// Connect on an unpaired handle.
func (a *Adapter) PairingEvents(ctx context.Context) (<-chan conn.PairingEvent, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}

	out := make(chan conn.PairingEvent, 8)
	go func() {
		defer close(out)
		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- conn.PairingEvent{Kind: "code", Code: item.Code}
			case "success":
				out <- conn.PairingEvent{Kind: "success"}
				return
			case "timeout":
				out <- conn.PairingEvent{Kind: "timeout"}
				return
			default:
				out <- conn.PairingEvent{Kind: "error", Err: item.Error}
				return
			}
		}
	}()
	return out, nil
}

// SendText sends a text message to the given address. Returns the
// server message ID.
func (a *Adapter) SendText(ctx context.Context, address, body string) (string, error) {
	to, err := types.ParseJID(address)
	if err != nil {
		return "", fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// SetTyping toggles the composing indicator for the given address.
func (a *Adapter) SetTyping(address string, typing bool) error {
	to, err := types.ParseJID(address)
	if err != nil {
		return fmt.Errorf("parse JID: %w", err)
	}
	presence := types.ChatPresencePaused
	if typing {
		presence = types.ChatPresenceComposing
	}
	return a.client.SendChatPresence(context.Background(), to, presence, typingMedia)
}

// CheckRegistered reports whether a normalized number exists on
// WhatsApp.
func (a *Adapter) CheckRegistered(ctx context.Context, number string) (bool, error) {
	resp, err := a.client.IsOnWhatsApp(ctx, []string{"+" + number})
	if err != nil {
		return false, fmt.Errorf("registration check: %w", err)
	}
	for _, item := range resp {
		return item.IsIn, nil
	}
	return false, nil
}

// PhoneNumber returns the authenticated account's number, or empty.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}
