// Package integration exercises the relay end to end over real WebSocket
// connections.
package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pinlink/pinlink/test/testhelpers"
)

// TestFullPairingScenario walks the reference flow: register two PINs, pair
// them, exchange a message, drop one side, and verify the survivor's next
// message goes nowhere without an error.
func TestFullPairingScenario(t *testing.T) {
	ts, srv := testhelpers.StartRelay(t)
	url := testhelpers.WSURL(ts)

	connA := testhelpers.Dial(t, url)
	connB := testhelpers.Dial(t, url)
	testhelpers.RegisterPin(t, connA, "11111111", "ana")
	testhelpers.RegisterPin(t, connB, "22222222", "ben")

	testhelpers.SendFrame(t, connA, map[string]any{"type": "connect", "toPin": "22222222"})

	pairedA := testhelpers.ExpectType(t, connA, "paired")
	if with, _ := pairedA["with"].(string); with != "22222222" {
		t.Errorf("initiator paired with %q, want 22222222", with)
	}
	profile, _ := pairedA["partnerProfile"].(map[string]any)
	if profile["username"] != "ben" {
		t.Errorf("partner profile = %v", profile)
	}

	pairedB := testhelpers.ExpectType(t, connB, "paired")
	if with, _ := pairedB["with"].(string); with != "11111111" {
		t.Errorf("target paired with %q, want 11111111", with)
	}

	historyA := testhelpers.ExpectType(t, connA, "history")
	if msgs, _ := historyA["messages"].([]any); len(msgs) != 0 {
		t.Errorf("initial history = %v, want empty list", msgs)
	}
	testhelpers.ExpectType(t, connB, "history")

	// A message is delivered to the partner only, never echoed.
	testhelpers.SendFrame(t, connA, map[string]any{"type": "message", "text": "hi"})
	msg := testhelpers.ExpectType(t, connB, "message")
	if msg["text"] != "hi" || msg["fromPin"] != "11111111" || msg["fromUsername"] != "ana" {
		t.Errorf("delivered message = %v", msg)
	}
	if _, ok := msg["ts"].(float64); !ok {
		t.Errorf("message lacks numeric ts: %v", msg)
	}

	// Frames on one connection are processed and delivered in order, so if
	// the relay had echoed the message back to A it would arrive before the
	// answer to this presence check.
	testhelpers.SendFrame(t, connA, map[string]any{"type": "presence_check", "toPin": "22222222"})
	testhelpers.ExpectType(t, connA, "presence")

	if history := srv.Relay().History("11111111", "22222222"); len(history) != 1 {
		t.Errorf("server-side history length = %d, want 1", len(history))
	}

	// B drops; A learns about it exactly once.
	if err := connB.Close(); err != nil {
		t.Fatalf("closing B: %v", err)
	}
	testhelpers.ExpectType(t, connA, "partner_disconnected")

	// A's next message is an orphaned action: no delivery, no error, no
	// history growth. The presence answer arriving next proves no error
	// frame was queued ahead of it.
	testhelpers.SendFrame(t, connA, map[string]any{"type": "message", "text": "hi again"})
	testhelpers.SendFrame(t, connA, map[string]any{"type": "presence_check", "toPin": "22222222"})
	testhelpers.ExpectType(t, connA, "presence")
	if history := srv.Relay().History("11111111", "22222222"); len(history) != 1 {
		t.Errorf("history grew after orphaned message: %d entries", len(history))
	}
}

func TestConnectUnknownPin(t *testing.T) {
	ts, srv := testhelpers.StartRelay(t)
	conn := testhelpers.Dial(t, testhelpers.WSURL(ts))
	testhelpers.RegisterPin(t, conn, "11111111", "ana")

	testhelpers.SendFrame(t, conn, map[string]any{"type": "connect", "toPin": "99999999"})

	errFrame := testhelpers.ExpectType(t, conn, "error")
	if msg, _ := errFrame["message"].(string); msg == "" {
		t.Error("error frame has no message")
	}
	testhelpers.ExpectSilence(t, conn, 200*time.Millisecond)
	if _, ok := srv.Relay().PartnerOf("11111111"); ok {
		t.Error("failed connect left pairing state")
	}
}

func TestConnectBeforeRegisterRejected(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)
	conn := testhelpers.Dial(t, testhelpers.WSURL(ts))

	testhelpers.SendFrame(t, conn, map[string]any{"type": "connect", "toPin": "22222222"})
	testhelpers.ExpectType(t, conn, "error")
}

func TestPresenceReflectsRegistryImmediately(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)
	url := testhelpers.WSURL(ts)

	watcher := testhelpers.Dial(t, url)
	testhelpers.RegisterPin(t, watcher, "11111111", "ana")

	check := func(want bool) {
		t.Helper()
		testhelpers.SendFrame(t, watcher, map[string]any{"type": "presence_check", "toPin": "22222222"})
		frame := testhelpers.ExpectType(t, watcher, "presence")
		if online, _ := frame["online"].(bool); online != want {
			t.Errorf("presence online = %v, want %v (frame: %v)", online, want, frame)
		}
	}

	check(false)

	target := testhelpers.Dial(t, url)
	testhelpers.RegisterPin(t, target, "22222222", "ben")
	check(true)

	if err := target.Close(); err != nil {
		t.Fatalf("closing target: %v", err)
	}
	// The close handler runs asynchronously; poll until presence flips.
	deadline := time.Now().Add(2 * time.Second)
	for {
		testhelpers.SendFrame(t, watcher, map[string]any{"type": "presence_check", "toPin": "22222222"})
		frame := testhelpers.ExpectType(t, watcher, "presence")
		online, _ := frame["online"].(bool)
		if !online {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("presence still true after target close")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// History survives unpairing: the same two PINs re-pairing resume the
// buffer, and the reborn side receives it on connect.
func TestHistoryResumesOnRepair(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)
	url := testhelpers.WSURL(ts)

	connA := testhelpers.Dial(t, url)
	connB := testhelpers.Dial(t, url)
	testhelpers.RegisterPin(t, connA, "11111111", "ana")
	testhelpers.RegisterPin(t, connB, "22222222", "ben")

	testhelpers.SendFrame(t, connA, map[string]any{"type": "connect", "toPin": "22222222"})
	testhelpers.ExpectType(t, connA, "paired")
	testhelpers.ExpectType(t, connA, "history")
	testhelpers.ExpectType(t, connB, "paired")
	testhelpers.ExpectType(t, connB, "history")

	testhelpers.SendFrame(t, connA, map[string]any{"type": "message", "text": "before the drop"})
	testhelpers.ExpectType(t, connB, "message")

	if err := connB.Close(); err != nil {
		t.Fatalf("closing B: %v", err)
	}
	testhelpers.ExpectType(t, connA, "partner_disconnected")

	// B returns under the same PIN and re-pairs.
	connB2 := testhelpers.Dial(t, url)
	testhelpers.RegisterPin(t, connB2, "22222222", "ben")
	testhelpers.SendFrame(t, connB2, map[string]any{"type": "connect", "toPin": "11111111"})
	testhelpers.ExpectType(t, connB2, "paired")

	history := testhelpers.ExpectType(t, connB2, "history")
	msgs, _ := history["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("resumed history has %d messages, want 1", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["text"] != "before the drop" {
		t.Errorf("resumed history[0] = %v", first)
	}
}

func TestTypingForwarded(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)
	url := testhelpers.WSURL(ts)

	connA := testhelpers.Dial(t, url)
	connB := testhelpers.Dial(t, url)
	testhelpers.RegisterPin(t, connA, "11111111", "ana")
	testhelpers.RegisterPin(t, connB, "22222222", "ben")
	testhelpers.SendFrame(t, connA, map[string]any{"type": "connect", "toPin": "22222222"})
	testhelpers.ExpectType(t, connA, "paired")
	testhelpers.ExpectType(t, connA, "history")
	testhelpers.ExpectType(t, connB, "paired")
	testhelpers.ExpectType(t, connB, "history")

	testhelpers.SendFrame(t, connA, map[string]any{"type": "typing"})

	typing := testhelpers.ExpectType(t, connB, "typing")
	if typing["fromPin"] != "11111111" || typing["fromUsername"] != "ana" {
		t.Errorf("typing event = %v", typing)
	}
	testhelpers.ExpectSilence(t, connA, 200*time.Millisecond)
}

// A malformed frame is logged and dropped; the connection stays usable.
func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts, _ := testhelpers.StartRelay(t)
	conn := testhelpers.Dial(t, testhelpers.WSURL(ts))
	testhelpers.RegisterPin(t, conn, "11111111", "ana")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{this is not json")); err != nil {
		t.Fatalf("writing malformed frame: %v", err)
	}

	// Still alive and answering, with no error frame queued ahead.
	testhelpers.SendFrame(t, conn, map[string]any{"type": "presence_check", "toPin": "11111111"})
	testhelpers.ExpectType(t, conn, "presence")
}
