// Package whatsapp adapts go.mau.fi/whatsmeow to the transport.Provider
// boundary. Reconnection policy lives in the session state machine, so the
// client's own auto-reconnect is disabled and every link drop is surfaced
// as a Closed signal instead.
package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"wagate/internal/transport"
	"wagate/pkg/logx"
)

type Config struct {
	// StorePath is the sqlite file holding pairing credentials and device
	// state. Deleting it forces a fresh QR pairing.
	StorePath string
}

type Provider struct {
	cfg Config
	log logx.Logger

	mu        sync.Mutex
	client    *whatsmeow.Client
	container *sqlstore.Container
}

var _ transport.Provider = (*Provider)(nil)

func New(cfg Config, log logx.Logger) *Provider {
	return &Provider{cfg: cfg, log: log}
}

func (p *Provider) Initialize(ctx context.Context, ev transport.Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return errors.New("whatsapp: already initialized")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", p.cfg.StorePath)
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLog.Noop)
	if err != nil {
		return fmt.Errorf("opening device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return fmt.Errorf("loading device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = false
	client.AddEventHandler(func(raw any) { p.handleEvent(raw, ev) })

	if client.Store.ID == nil {
		// Never paired: QR flow. The channel must be requested before Connect.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			_ = container.Close()
			return fmt.Errorf("requesting pairing channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			_ = container.Close()
			return fmt.Errorf("connecting: %w", err)
		}
		go p.pumpQR(qrChan, ev)
	} else {
		if err := client.Connect(); err != nil {
			_ = container.Close()
			return fmt.Errorf("connecting: %w", err)
		}
	}

	p.client = client
	p.container = container
	return nil
}

func (p *Provider) pumpQR(qrChan <-chan whatsmeow.QRChannelItem, ev transport.Events) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			artifact, err := renderQR(item.Code)
			if err != nil {
				p.log.Error("rendering pairing QR failed", logx.Err(err))
				continue
			}
			if ev.PairingCode != nil {
				ev.PairingCode(artifact)
			}
		case "success":
			// Established is signaled via the events.Connected handler.
		default:
			p.log.Debug("pairing channel event", logx.String("event", item.Event))
		}
	}
}

func (p *Provider) handleEvent(raw any, ev transport.Events) {
	switch evt := raw.(type) {
	case *events.Connected:
		if ev.Established != nil {
			ev.Established()
		}
	case *events.LoggedOut:
		if ev.Closed != nil {
			ev.Closed("logged out remotely", false)
		}
	case *events.StreamReplaced:
		if ev.Closed != nil {
			ev.Closed("stream replaced by another device", false)
		}
	case *events.Disconnected:
		if ev.Closed != nil {
			ev.Closed("connection closed", true)
		}
	case *events.Message:
		if evt.Info.IsFromMe {
			return
		}
		content := extractText(evt.Message)
		if ev.Incoming != nil {
			ev.Incoming(transport.IncomingMessage{
				Sender:    evt.Info.Sender.User,
				Content:   content,
				Timestamp: evt.Info.Timestamp,
			})
		}
	}
}

func (p *Provider) Send(ctx context.Context, recipient, body string) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return errors.New("whatsapp: not initialized")
	}

	jid := types.NewJID(recipient, types.DefaultUserServer)
	_, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", jid, err)
	}
	return nil
}

func (p *Provider) Teardown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Disconnect()
		p.client = nil
	}
	if p.container != nil {
		err := p.container.Close()
		p.container = nil
		return err
	}
	return nil
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return "Media message"
}

// renderQR encodes the pairing code as a PNG data URL so the UI can drop it
// straight into an <img> tag.
func renderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("data:image/png;base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(png))
	return b.String(), nil
}
