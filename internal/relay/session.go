package relay

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/protocol"
)

// State tags a session's position in its lifecycle. Pairing itself lives in
// the service's pairing table (the single source of truth, since the other
// side of a pair can change it at any time); the session state guards the
// register-before-anything precondition and the terminal transition.
type State int

const (
	// StateUnregistered is the initial state after the transport opens.
	StateUnregistered State = iota
	// StateRegistered means the session occupies a PIN slot.
	StateRegistered
	// StateClosed is terminal; the transport is gone and all relay state
	// for this session has been torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the per-connection protocol handler. It parses inbound frames,
// validates preconditions, and drives registry, pairing, and history
// mutations plus outbound deliveries.
//
// HandleFrame and Close must be called from a single goroutine: a
// connection's frames are processed strictly sequentially. The shared
// structures behind the Service are safe for many sessions concurrently.
type Session struct {
	svc   *Service
	conn  Conn
	log   *zap.Logger
	state State
	pin   string
}

// NewSession binds a transport connection to the relay service.
func NewSession(svc *Service, conn Conn, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		svc:   svc,
		conn:  conn,
		log:   log,
		state: StateUnregistered,
	}
}

// Pin returns the PIN this session registered, or "" before registration.
func (s *Session) Pin() string {
	return s.pin
}

// State returns the session's current lifecycle tag.
func (s *Session) State() State {
	return s.state
}

// HandleFrame processes one raw inbound frame. A malformed or unknown frame
// is logged and dropped; it never closes the connection and never returns
// the failure to the peer.
func (s *Session) HandleFrame(raw []byte) {
	if s.state == StateClosed {
		return
	}

	decoded, err := protocol.Decode(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownType) {
			reason = "unknown_type"
		}
		s.svc.metrics.frameError(reason)
		s.log.Warn("dropping bad frame", zap.Error(err))
		return
	}

	switch f := decoded.(type) {
	case protocol.Register:
		s.svc.metrics.frameHandled(protocol.TypeRegister)
		s.handleRegister(f)
	case protocol.Connect:
		s.svc.metrics.frameHandled(protocol.TypeConnect)
		s.handleConnect(f)
	case protocol.SendMessage:
		s.svc.metrics.frameHandled(protocol.TypeMessage)
		s.handleMessage(f)
	case protocol.Typing:
		s.svc.metrics.frameHandled(protocol.TypeTyping)
		s.handleTyping()
	case protocol.PresenceCheck:
		s.svc.metrics.frameHandled(protocol.TypePresenceCheck)
		s.handlePresenceCheck(f)
	}
}

func (s *Session) handleRegister(f protocol.Register) {
	if !protocol.ValidPin(f.Pin) {
		s.svc.metrics.frameError("invalid_pin")
		s.sendError("PIN must be 8 digits")
		return
	}

	// Re-registering under a new PIN on the same transport releases the old
	// slot first, tearing down any pairing exactly like a close would.
	if s.state == StateRegistered && s.pin != f.Pin {
		s.teardown()
	}

	s.pin = f.Pin
	s.state = StateRegistered
	s.svc.Register(f.Pin, f.Profile(), s.conn)
	s.log.Info("pin registered", zap.String("pin", f.Pin), zap.String("username", f.Username))

	s.send(protocol.NewRegistered(f.Pin))
}

func (s *Session) handleConnect(f protocol.Connect) {
	if s.state != StateRegistered {
		s.svc.metrics.frameError("not_registered")
		s.sendError("register a PIN before connecting")
		return
	}

	res, err := s.svc.Pair(s.pin, f.ToPin)
	if err != nil {
		s.svc.metrics.frameError("target_not_found")
		s.sendError("PIN not found")
		return
	}

	s.log.Info("pair formed", zap.String("pin", s.pin), zap.String("with", f.ToPin))

	history := protocol.NewHistory(res.History)
	s.send(protocol.NewPaired(f.ToPin, res.TargetProfile))
	s.sendTo(res.TargetConn, protocol.NewPaired(s.pin, res.InitiatorProfile))
	s.send(history)
	s.sendTo(res.TargetConn, history)
}

func (s *Session) handleMessage(f protocol.SendMessage) {
	if s.state != StateRegistered {
		s.svc.metrics.frameDropped("unregistered")
		return
	}

	partnerConn, msg, ok := s.svc.Relay(s.pin, f.Text)
	if !ok {
		// Not currently paired, or the partner slot is gone. Dropped with no
		// error back to the sender.
		s.svc.metrics.frameDropped("unpaired")
		s.log.Debug("message dropped while unpaired", zap.String("pin", s.pin))
		return
	}

	s.sendTo(partnerConn, protocol.NewMessageEvent(msg))
}

func (s *Session) handleTyping() {
	if s.state != StateRegistered {
		s.svc.metrics.frameDropped("unregistered")
		return
	}

	partnerConn, ev, ok := s.svc.Typing(s.pin)
	if !ok {
		s.svc.metrics.frameDropped("unpaired")
		return
	}

	s.sendTo(partnerConn, ev)
}

func (s *Session) handlePresenceCheck(f protocol.PresenceCheck) {
	s.svc.metrics.presenceAnswered()
	s.send(protocol.NewPresence(f.ToPin, s.svc.Online(f.ToPin)))
}

// Close tears down the session's relay state after its transport is gone.
// If the session was paired, the surviving partner receives exactly one
// partner_disconnected. Safe to call more than once.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	if s.state == StateRegistered {
		s.teardown()
	}
	s.state = StateClosed
}

func (s *Session) teardown() {
	partnerConn, notify := s.svc.Disconnect(s.pin)
	if notify {
		s.svc.metrics.partnerNotified()
		s.sendTo(partnerConn, protocol.NewPartnerDisconnected())
	}
	s.log.Info("pin released", zap.String("pin", s.pin))
}

func (s *Session) send(frame any) {
	s.sendTo(s.conn, frame)
}

// sendTo delivers a frame best-effort. A failed send is logged and
// otherwise ignored; a dead peer cleans itself up through its own close
// path.
func (s *Session) sendTo(conn Conn, frame any) {
	if conn == nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		s.log.Debug("frame delivery failed", zap.Error(err))
	}
}

func (s *Session) sendError(message string) {
	s.send(protocol.NewError(message))
}
