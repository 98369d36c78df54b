// Package client implements the relay's client-side session: local PIN
// identity, local echo of sent messages, a one-second presence poll, and
// reconnection with a fixed delay on transport loss.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/protocol"
)

const (
	// ReconnectDelay is the fixed (non-exponential) wait before re-dialing
	// after transport loss.
	ReconnectDelay = 3 * time.Second
	// PresenceInterval is how often the session polls the partner's presence.
	PresenceInterval = time.Second
	// TypingIndicatorTTL is how long a rendered typing indicator should
	// live; the protocol never sends a "stopped typing" event.
	TypingIndicatorTTL = 1200 * time.Millisecond
)

// ErrNotPaired is returned when sending without an active pairing.
var ErrNotPaired = errors.New("not paired with anyone")

// ErrNotConnected is returned when the transport to the relay is down.
var ErrNotConnected = errors.New("not connected to relay")

// Transport is the minimal connection capability the session needs, so
// tests can drive it with an in-process fake.
type Transport interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a Transport to the relay.
type Dialer func(ctx context.Context) (Transport, error)

// Handlers receives session events for rendering. Nil callbacks are
// skipped. Callbacks run on the session's goroutines; implementations must
// hand off to their own UI thread if they need one.
type Handlers struct {
	Status              func(text string, ok bool)
	Registered          func(pin string)
	Paired              func(with string, partner protocol.Profile)
	History             func(messages []protocol.Message)
	Message             func(msg protocol.Message, mine bool)
	Typing              func(fromUsername, fromPin string)
	Presence            func(pin string, online bool)
	PartnerDisconnected func()
	Error               func(message string)
}

// RandomPin generates the 8-digit PIN a client asserts for one connection.
func RandomPin() string {
	return fmt.Sprintf("%08d", 10000000+rand.Intn(90000000))
}

// Session is the client-side state machine. It registers its PIN on every
// (re)connect, relays outbound frames, and dispatches inbound events.
type Session struct {
	dial     Dialer
	profile  protocol.Profile
	handlers Handlers
	log      *zap.Logger

	reconnectDelay   time.Duration
	presenceInterval time.Duration

	mu        sync.Mutex
	pin       string
	transport Transport
	target    string
	partner   string
	paired    bool
}

// NewSession builds a session with a freshly generated PIN.
func NewSession(dial Dialer, profile protocol.Profile, handlers Handlers, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		dial:             dial,
		profile:          profile,
		handlers:         handlers,
		log:              log,
		reconnectDelay:   ReconnectDelay,
		presenceInterval: PresenceInterval,
		pin:              RandomPin(),
	}
}

// Pin returns the session's local PIN.
func (s *Session) Pin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pin
}

// Paired reports whether the session currently believes it is paired.
func (s *Session) Paired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paired
}

// Run dials, registers, and processes events until ctx is canceled. Every
// transport loss is followed by a fixed delay and a full re-register under
// the same PIN, which the relay treats as an ordinary fresh registration.
func (s *Session) Run(ctx context.Context) {
	go s.presenceLoop(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		s.status("Connecting to relay...", true)
		transport, err := s.dial(ctx)
		if err != nil {
			s.status("Connection failed, retrying...", false)
			if !s.sleep(ctx, s.reconnectDelay) {
				return
			}
			continue
		}

		s.setTransport(transport)
		if err := s.register(); err != nil {
			s.log.Warn("register failed", zap.Error(err))
		}

		s.readLoop(ctx, transport)
		s.clearTransport()

		if ctx.Err() != nil {
			return
		}
		s.status("Connection lost, reconnecting...", false)
		if !s.sleep(ctx, s.reconnectDelay) {
			return
		}
	}
}

// Connect asks the relay to pair with toPin.
func (s *Session) Connect(toPin string) error {
	if !protocol.ValidPin(toPin) {
		return fmt.Errorf("invalid PIN %q: want %d digits", toPin, protocol.PinLength)
	}

	s.mu.Lock()
	s.target = toPin
	transport := s.transport
	s.mu.Unlock()

	if transport == nil {
		return ErrNotConnected
	}
	return transport.WriteJSON(protocol.Connect{Type: protocol.TypeConnect, ToPin: toPin})
}

// SendMessage relays text to the partner and echoes it locally right away;
// the server never reflects a sender's own messages back.
func (s *Session) SendMessage(text string) error {
	s.mu.Lock()
	transport := s.transport
	paired := s.paired
	pin := s.pin
	s.mu.Unlock()

	if transport == nil {
		return ErrNotConnected
	}
	if !paired {
		return ErrNotPaired
	}
	if err := transport.WriteJSON(protocol.SendMessage{Type: protocol.TypeMessage, Text: text}); err != nil {
		return err
	}

	s.emitMessage(protocol.Message{
		Text:         text,
		FromPin:      pin,
		FromUsername: s.profile.Username,
		Ts:           time.Now().UnixMilli(),
	}, true)
	return nil
}

// SendTyping signals composing to the partner. Best-effort; dropped
// silently when unpaired.
func (s *Session) SendTyping() {
	s.mu.Lock()
	transport := s.transport
	paired := s.paired
	s.mu.Unlock()

	if transport == nil || !paired {
		return
	}
	if err := transport.WriteJSON(protocol.Typing{Type: protocol.TypeTyping}); err != nil {
		s.log.Debug("typing signal failed", zap.Error(err))
	}
}

// Close tears down the current transport, which unwinds Run's read loop.
func (s *Session) Close() {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport != nil {
		_ = transport.Close()
	}
}

func (s *Session) register() error {
	s.mu.Lock()
	transport := s.transport
	pin := s.pin
	s.mu.Unlock()

	if transport == nil {
		return ErrNotConnected
	}
	return transport.WriteJSON(protocol.Register{
		Type:       protocol.TypeRegister,
		Pin:        pin,
		Username:   s.profile.Username,
		Email:      s.profile.Email,
		Phone:      s.profile.Phone,
		Profession: s.profile.Profession,
	})
}

func (s *Session) readLoop(ctx context.Context, transport Transport) {
	for {
		raw, err := transport.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("transport closed", zap.Error(err))
			}
			return
		}
		s.handleEvent(raw)
	}
}

func (s *Session) handleEvent(raw []byte) {
	decoded, err := protocol.DecodeEvent(raw)
	if err != nil {
		s.log.Warn("dropping bad event", zap.Error(err))
		return
	}

	switch ev := decoded.(type) {
	case protocol.Registered:
		s.status("Ready. Share your PIN to chat.", true)
		if s.handlers.Registered != nil {
			s.handlers.Registered(ev.Pin)
		}
	case protocol.Paired:
		s.mu.Lock()
		s.partner = ev.With
		s.paired = true
		s.mu.Unlock()
		s.status("Paired with "+ev.With, true)
		if s.handlers.Paired != nil {
			s.handlers.Paired(ev.With, ev.PartnerProfile)
		}
	case protocol.History:
		if s.handlers.History != nil {
			s.handlers.History(ev.Messages)
		}
	case protocol.MessageEvent:
		s.emitMessage(ev.Message, false)
	case protocol.TypingEvent:
		if s.handlers.Typing != nil {
			s.handlers.Typing(ev.FromUsername, ev.FromPin)
		}
	case protocol.Presence:
		if s.handlers.Presence != nil {
			s.handlers.Presence(ev.Pin, ev.Online)
		}
	case protocol.PartnerDisconnected:
		s.mu.Lock()
		s.partner = ""
		s.paired = false
		s.mu.Unlock()
		s.status("Partner disconnected.", false)
		if s.handlers.PartnerDisconnected != nil {
			s.handlers.PartnerDisconnected()
		}
	case protocol.ErrorFrame:
		s.status("Error: "+ev.Message, false)
		if s.handlers.Error != nil {
			s.handlers.Error(ev.Message)
		}
	}
}

// presenceLoop polls the relay once per second for the connect target (or,
// failing that, the current partner).
func (s *Session) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.presenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			transport := s.transport
			target := s.target
			if target == "" {
				target = s.partner
			}
			s.mu.Unlock()

			if transport == nil || !protocol.ValidPin(target) {
				continue
			}
			if err := transport.WriteJSON(protocol.PresenceCheck{Type: protocol.TypePresenceCheck, ToPin: target}); err != nil {
				s.log.Debug("presence poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Session) setTransport(t Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

func (s *Session) clearTransport() {
	s.mu.Lock()
	if s.transport != nil {
		_ = s.transport.Close()
	}
	s.transport = nil
	s.partner = ""
	s.paired = false
	s.mu.Unlock()
}

func (s *Session) emitMessage(msg protocol.Message, mine bool) {
	if s.handlers.Message != nil {
		s.handlers.Message(msg, mine)
	}
}

func (s *Session) status(text string, ok bool) {
	if s.handlers.Status != nil {
		s.handlers.Status(text, ok)
	}
}

// sleep waits for d or ctx cancellation; it reports false when canceled.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
