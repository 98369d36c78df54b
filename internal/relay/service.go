// Package relay implements the pairing-and-relay core: a registry of live
// PIN connections, a symmetric pairing table, and a per-pair message
// history buffer, all guarded by a single mutex so every individual
// mutation is atomic with respect to concurrent connections.
package relay

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/protocol"
)

// ErrTargetNotFound is returned by Pair when the requested PIN has no live
// connection.
var ErrTargetNotFound = errors.New("target pin not registered")

// Conn is the minimal capability the relay needs from a transport: deliver
// one frame, or tear the transport down. Implementations must be safe for
// concurrent use, since partner sessions send to each other's connections.
type Conn interface {
	Send(frame any) error
	Close() error
}

type slot struct {
	conn    Conn
	profile protocol.Profile
}

// Service owns the three shared structures of the relay. The registry maps
// a PIN to its live connection and profile snapshot, the pairing table maps
// a PIN to its current partner (always symmetrically), and the history
// store maps a canonical pair key to the ordered message buffer. History is
// memory-only and never pruned, so re-pairing the same two PINs resumes the
// same buffer.
type Service struct {
	mu      sync.Mutex
	pins    map[string]slot
	pairs   map[string]string
	history map[string][]protocol.Message

	log     *zap.Logger
	metrics *Metrics
	nowFn   func() time.Time
}

// NewService builds an empty relay service. A nil logger or metrics is
// replaced by a no-op.
func NewService(log *zap.Logger, metrics *Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pins:    make(map[string]slot),
		pairs:   make(map[string]string),
		history: make(map[string][]protocol.Message),
		log:     log,
		metrics: metrics,
		nowFn:   time.Now,
	}
}

// PairKey derives the canonical, order-independent key for two PINs so that
// either ordering addresses the same history buffer.
func PairKey(a, b string) string {
	pins := []string{a, b}
	sort.Strings(pins)
	return strings.Join(pins, "-")
}

// Register inserts or overwrites the slot for pin. A collision with a live
// connection is not an error: the prior occupant is silently orphaned.
func (s *Service) Register(pin string, profile protocol.Profile, conn Conn) {
	s.mu.Lock()
	_, existed := s.pins[pin]
	s.pins[pin] = slot{conn: conn, profile: profile}
	s.mu.Unlock()

	if existed {
		s.log.Warn("pin slot overwritten by new registration", zap.String("pin", pin))
	} else {
		s.metrics.pinRegistered()
	}
}

// Lookup returns the connection and profile currently occupying pin.
func (s *Service) Lookup(pin string) (Conn, protocol.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.pins[pin]
	return sl.conn, sl.profile, ok
}

// Remove frees the slot for pin. It does not touch the pairing table; use
// Disconnect for full teardown.
func (s *Service) Remove(pin string) bool {
	s.mu.Lock()
	_, ok := s.pins[pin]
	delete(s.pins, pin)
	s.mu.Unlock()

	if ok {
		s.metrics.pinRemoved()
	}
	return ok
}

// Online reports whether pin currently occupies a registry slot. It is a
// pure read and allocates nothing, so it tolerates high-frequency polling.
func (s *Service) Online(pin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pins[pin]
	return ok
}

// PairResult carries everything the protocol handler needs to announce a
// new pairing to both sides, captured atomically under the service lock.
type PairResult struct {
	TargetConn       Conn
	TargetProfile    protocol.Profile
	InitiatorProfile protocol.Profile
	History          []protocol.Message
}

// Pair links initiator and target symmetrically, creating the pair's
// history buffer if it does not exist yet. It fails with ErrTargetNotFound
// if either side lost its registry slot by the time the lock is held, so a
// target disconnecting mid-connect can never leave half-applied state.
//
// A prior pairing held by either side is dissolved silently: the abandoned
// partner's reverse entry is removed but it is not notified.
func (s *Service) Pair(initiator, target string) (PairResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tgt, ok := s.pins[target]
	if !ok {
		return PairResult{}, ErrTargetNotFound
	}
	ini, ok := s.pins[initiator]
	if !ok {
		return PairResult{}, ErrTargetNotFound
	}

	s.dropPairingLocked(initiator)
	s.dropPairingLocked(target)
	s.pairs[initiator] = target
	s.pairs[target] = initiator
	s.metrics.pairFormed()

	key := PairKey(initiator, target)
	if _, ok := s.history[key]; !ok {
		s.history[key] = []protocol.Message{}
	}

	buf := s.history[key]
	out := make([]protocol.Message, len(buf))
	copy(out, buf)

	return PairResult{
		TargetConn:       tgt.conn,
		TargetProfile:    tgt.profile,
		InitiatorProfile: ini.profile,
		History:          out,
	}, nil
}

// dropPairingLocked removes pin's pairing in both directions, keeping the
// table symmetric. Callers hold s.mu.
func (s *Service) dropPairingLocked(pin string) {
	partner, ok := s.pairs[pin]
	if !ok {
		return
	}
	delete(s.pairs, pin)
	if s.pairs[partner] == pin {
		delete(s.pairs, partner)
	}
	s.metrics.pairDissolved()
}

// PartnerOf returns the PIN currently paired with pin.
func (s *Service) PartnerOf(pin string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, ok := s.pairs[pin]
	return partner, ok
}

// Relay records one message from fromPin and resolves the partner
// connection it must be forwarded to. The history append and the partner
// lookup happen under one lock acquisition. It returns ok=false when
// fromPin has no pairing or the partner's registry slot is gone; in both
// cases nothing is recorded (OrphanedAction: the frame is simply dropped).
func (s *Service) Relay(fromPin, text string) (Conn, protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	partner, ok := s.pairs[fromPin]
	if !ok {
		return nil, protocol.Message{}, false
	}
	partnerSlot, ok := s.pins[partner]
	if !ok {
		return nil, protocol.Message{}, false
	}
	sender, ok := s.pins[fromPin]
	if !ok {
		return nil, protocol.Message{}, false
	}

	msg := protocol.Message{
		Text:         text,
		FromPin:      fromPin,
		FromUsername: sender.profile.Username,
		Ts:           s.nowFn().UnixMilli(),
	}

	key := PairKey(fromPin, partner)
	s.history[key] = append(s.history[key], msg)
	s.metrics.messageRelayed()

	return partnerSlot.conn, msg, true
}

// Typing resolves the partner connection for an ephemeral typing signal.
// Nothing is recorded; unpaired senders are dropped like Relay.
func (s *Service) Typing(fromPin string) (Conn, protocol.TypingEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	partner, ok := s.pairs[fromPin]
	if !ok {
		return nil, protocol.TypingEvent{}, false
	}
	partnerSlot, ok := s.pins[partner]
	if !ok {
		return nil, protocol.TypingEvent{}, false
	}
	sender, ok := s.pins[fromPin]
	if !ok {
		return nil, protocol.TypingEvent{}, false
	}

	return partnerSlot.conn, protocol.NewTypingEvent(fromPin, sender.profile.Username), true
}

// Disconnect tears down pin's registry slot and pairing in one atomic step.
// It returns the surviving partner's connection when pin was paired and the
// partner still has a live slot, so the caller can deliver the single
// partner_disconnected notification outside the lock.
func (s *Service) Disconnect(pin string) (Conn, bool) {
	s.mu.Lock()

	var partnerConn Conn
	notify := false
	if partner, ok := s.pairs[pin]; ok {
		if sl, ok := s.pins[partner]; ok {
			partnerConn = sl.conn
			notify = true
		}
		s.dropPairingLocked(pin)
	}
	_, hadSlot := s.pins[pin]
	delete(s.pins, pin)
	s.mu.Unlock()

	if hadSlot {
		s.metrics.pinRemoved()
	}
	return partnerConn, notify
}

// History returns a copy of the buffer for the pair of a and b, in send
// order. It is primarily an observability and test hook.
func (s *Service) History(a, b string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.history[PairKey(a, b)]
	out := make([]protocol.Message, len(buf))
	copy(out, buf)
	return out
}
