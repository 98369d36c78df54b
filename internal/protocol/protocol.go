// Package protocol defines the JSON frame types exchanged between the
// pinlink relay and its clients, plus helpers to decode inbound frames.
//
// Every frame carries a "type" field. Inbound frames are decoded in two
// passes: the envelope first to learn the type, then the concrete struct.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type tags, client to server.
const (
	TypeRegister      = "register"
	TypeConnect       = "connect"
	TypeMessage       = "message"
	TypeTyping        = "typing"
	TypePresenceCheck = "presence_check"
)

// Frame type tags, server to client.
const (
	TypeRegistered          = "registered"
	TypePaired              = "paired"
	TypeHistory             = "history"
	TypePresence            = "presence"
	TypePartnerDisconnected = "partner_disconnected"
	TypeError               = "error"
)

// ErrUnknownType is returned by Decode for a frame whose type tag is not
// part of the client-to-server vocabulary.
var ErrUnknownType = errors.New("unknown frame type")

// PinLength is the number of digits in a valid PIN.
const PinLength = 8

// ValidPin reports whether s is an 8-digit numeric PIN.
func ValidPin(s string) bool {
	if len(s) != PinLength {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Profile is the snapshot of identity data a client attaches at register
// time. The relay treats it as opaque and only echoes it to partners.
type Profile struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Profession string `json:"profession"`
}

// Message is one relayed chat message. Ts is Unix milliseconds at server
// arrival.
type Message struct {
	Text         string `json:"text"`
	FromPin      string `json:"fromPin"`
	FromUsername string `json:"fromUsername"`
	Ts           int64  `json:"ts"`
}

// Register claims a PIN slot and attaches a profile snapshot.
type Register struct {
	Type       string `json:"type"`
	Pin        string `json:"pin"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Profession string `json:"profession"`
}

// Profile assembles the profile snapshot carried by a register frame.
func (r Register) Profile() Profile {
	return Profile{
		Username:   r.Username,
		Email:      r.Email,
		Phone:      r.Phone,
		Profession: r.Profession,
	}
}

// Connect asks the relay to pair the sender with another PIN.
type Connect struct {
	Type  string `json:"type"`
	ToPin string `json:"toPin"`
}

// SendMessage carries chat text toward the sender's current partner.
type SendMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Typing signals that the sender is composing; it has no payload.
type Typing struct {
	Type string `json:"type"`
}

// PresenceCheck asks whether a PIN currently has a live connection.
type PresenceCheck struct {
	Type  string `json:"type"`
	ToPin string `json:"toPin"`
}

// Registered confirms a register frame.
type Registered struct {
	Type string `json:"type"`
	Pin  string `json:"pin"`
}

// Paired tells one side of a new pairing who it is now linked with.
type Paired struct {
	Type           string  `json:"type"`
	With           string  `json:"with"`
	PartnerProfile Profile `json:"partnerProfile"`
}

// History delivers the full message buffer for a pair, in send order.
type History struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// MessageEvent forwards one relayed message to the partner.
type MessageEvent struct {
	Type string `json:"type"`
	Message
}

// TypingEvent forwards a typing signal to the partner.
type TypingEvent struct {
	Type         string `json:"type"`
	FromPin      string `json:"fromPin"`
	FromUsername string `json:"fromUsername"`
}

// Presence answers a presence check.
type Presence struct {
	Type   string `json:"type"`
	Pin    string `json:"pin"`
	Online bool   `json:"online"`
}

// PartnerDisconnected tells the surviving side its partner's transport closed.
type PartnerDisconnected struct {
	Type string `json:"type"`
}

// ErrorFrame reports a failed operation to the offending client only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewRegistered builds a registered confirmation for pin.
func NewRegistered(pin string) Registered {
	return Registered{Type: TypeRegistered, Pin: pin}
}

// NewPaired builds a paired event naming the partner and its profile.
func NewPaired(with string, partner Profile) Paired {
	return Paired{Type: TypePaired, With: with, PartnerProfile: partner}
}

// NewHistory builds a history event. A nil slice is normalized to an empty
// list so the client always receives a JSON array.
func NewHistory(messages []Message) History {
	if messages == nil {
		messages = []Message{}
	}
	return History{Type: TypeHistory, Messages: messages}
}

// NewMessageEvent wraps a stored message for delivery to the partner.
func NewMessageEvent(msg Message) MessageEvent {
	return MessageEvent{Type: TypeMessage, Message: msg}
}

// NewTypingEvent builds a typing event naming the composing side.
func NewTypingEvent(fromPin, fromUsername string) TypingEvent {
	return TypingEvent{Type: TypeTyping, FromPin: fromPin, FromUsername: fromUsername}
}

// NewPresence builds a presence answer for pin.
func NewPresence(pin string, online bool) Presence {
	return Presence{Type: TypePresence, Pin: pin, Online: online}
}

// NewPartnerDisconnected builds the partner-loss notification.
func NewPartnerDisconnected() PartnerDisconnected {
	return PartnerDisconnected{Type: TypePartnerDisconnected}
}

// NewError builds an error frame with a human-readable message.
func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses a raw server-to-client frame into its concrete
// struct. It is the client counterpart of Decode.
func DecodeEvent(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch env.Type {
	case TypeRegistered:
		var f Registered
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode registered event: %w", err)
		}
		return f, nil
	case TypePaired:
		var f Paired
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode paired event: %w", err)
		}
		return f, nil
	case TypeHistory:
		var f History
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode history event: %w", err)
		}
		return f, nil
	case TypeMessage:
		var f MessageEvent
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode message event: %w", err)
		}
		return f, nil
	case TypeTyping:
		var f TypingEvent
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode typing event: %w", err)
		}
		return f, nil
	case TypePresence:
		var f Presence
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode presence event: %w", err)
		}
		return f, nil
	case TypePartnerDisconnected:
		return PartnerDisconnected{Type: TypePartnerDisconnected}, nil
	case TypeError:
		var f ErrorFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Decode parses a raw inbound frame into its concrete struct. It returns
// ErrUnknownType for unrecognized type tags and a wrapped JSON error for
// malformed payloads.
func Decode(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case TypeRegister:
		var f Register
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode register frame: %w", err)
		}
		return f, nil
	case TypeConnect:
		var f Connect
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode connect frame: %w", err)
		}
		return f, nil
	case TypeMessage:
		var f SendMessage
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode message frame: %w", err)
		}
		return f, nil
	case TypeTyping:
		return Typing{Type: TypeTyping}, nil
	case TypePresenceCheck:
		var f PresenceCheck
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode presence_check frame: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}
