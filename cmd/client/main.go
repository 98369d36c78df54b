// Command client is a terminal chat client for the pinlink relay. It
// registers a random 8-digit PIN, pairs with a remote PIN, and relays
// messages, with presence polling and automatic reconnection handled by the
// session layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/pinlink/pinlink/internal/client"
	"github.com/pinlink/pinlink/internal/protocol"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "relay WebSocket URL")
	origin := flag.String("origin", "http://localhost:8080", "origin header for the WebSocket handshake")
	name := flag.String("name", "Anon", "display name")
	email := flag.String("email", "", "profile email")
	phone := flag.String("phone", "", "profile phone")
	profession := flag.String("profession", "", "profile profession")
	flag.Parse()

	profile := protocol.Profile{
		Username:   *name,
		Email:      *email,
		Phone:      *phone,
		Profession: *profession,
	}

	app := newChatApp(*serverURL, *origin, profile)
	if err := app.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// chatApp is the tview shell around a client.Session.
type chatApp struct {
	ui      *tview.Application
	session *client.Session

	statusView   *tview.TextView
	presenceView *tview.TextView
	chatView     *tview.TextView
	typingView   *tview.TextView
	pinInput     *tview.InputField
	messageInput *tview.InputField

	typingTimer *time.Timer
}

func newChatApp(serverURL, origin string, profile protocol.Profile) *chatApp {
	a := &chatApp{ui: tview.NewApplication()}

	a.session = client.NewSession(
		client.WebSocketDialer(serverURL, origin),
		profile,
		client.Handlers{
			Status:              a.onStatus,
			Paired:              a.onPaired,
			History:             a.onHistory,
			Message:             a.onMessage,
			Typing:              a.onTyping,
			Presence:            a.onPresence,
			PartnerDisconnected: a.onPartnerDisconnected,
			Error:               a.onError,
		},
		zap.NewNop(),
	)
	return a
}

func (a *chatApp) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.statusView = tview.NewTextView().SetDynamicColors(true)
	a.statusView.SetText(fmt.Sprintf("[yellow]Connecting...[-]  My PIN: [::b]%s[-]", a.session.Pin()))

	a.presenceView = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignRight)
	a.presenceView.SetText("[red]○ offline[-]")

	a.chatView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	a.chatView.SetBorder(true).SetTitle(" Chat ")
	a.chatView.SetChangedFunc(func() {
		a.chatView.ScrollToEnd()
		a.ui.Draw()
	})

	a.typingView = tview.NewTextView().SetDynamicColors(true)

	a.pinInput = tview.NewInputField().
		SetLabel("Connect to PIN: ").
		SetFieldWidth(protocol.PinLength + 2)
	a.pinInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		if err := a.session.Connect(a.pinInput.GetText()); err != nil {
			a.appendSystem(err.Error())
			return
		}
		a.ui.SetFocus(a.messageInput)
	})

	a.messageInput = tview.NewInputField().SetLabel("> ")
	a.messageInput.SetChangedFunc(func(string) {
		a.session.SendTyping()
	})
	a.messageInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.messageInput.GetText()
		if text == "" {
			return
		}
		if err := a.session.SendMessage(text); err != nil {
			a.appendSystem(err.Error())
			return
		}
		a.messageInput.SetText("")
	})

	header := tview.NewFlex().
		AddItem(a.statusView, 0, 3, false).
		AddItem(a.presenceView, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(a.pinInput, 1, 0, true).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.typingView, 1, 0, false).
		AddItem(a.messageInput, 1, 0, false)

	root.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyTab {
			if a.pinInput.HasFocus() {
				a.ui.SetFocus(a.messageInput)
			} else {
				a.ui.SetFocus(a.pinInput)
			}
			return nil
		}
		return event
	})

	go a.session.Run(ctx)

	defer a.session.Close()
	return a.ui.SetRoot(root, true).EnableMouse(false).Run()
}

func (a *chatApp) onStatus(text string, ok bool) {
	color := "gray"
	if !ok {
		color = "red"
	}
	a.ui.QueueUpdateDraw(func() {
		a.statusView.SetText(fmt.Sprintf("[%s]%s[-]  My PIN: [::b]%s[-]", color, tview.Escape(text), a.session.Pin()))
	})
}

func (a *chatApp) onPaired(with string, partner protocol.Profile) {
	a.ui.QueueUpdateDraw(func() {
		name := partner.Username
		if name == "" {
			name = with
		}
		sub := partner.Profession
		if sub == "" {
			sub = partner.Email
		}
		a.chatView.SetTitle(fmt.Sprintf(" Chat with %s (%s) ", tview.Escape(name), tview.Escape(sub)))
	})
	a.appendSystem("Paired with " + with + ". Say hi.")
}

func (a *chatApp) onHistory(messages []protocol.Message) {
	myPin := a.session.Pin()
	a.ui.QueueUpdateDraw(func() {
		for _, msg := range messages {
			a.writeMessage(msg, msg.FromPin == myPin)
		}
	})
}

func (a *chatApp) onMessage(msg protocol.Message, mine bool) {
	a.ui.QueueUpdateDraw(func() {
		a.writeMessage(msg, mine)
	})
}

// onTyping shows the indicator and arms a timer to clear it; the protocol
// never sends a corresponding "stopped typing" event.
func (a *chatApp) onTyping(fromUsername, fromPin string) {
	who := fromUsername
	if who == "" {
		who = fromPin
	}
	a.ui.QueueUpdateDraw(func() {
		a.typingView.SetText(fmt.Sprintf("[gray]%s is typing...[-]", tview.Escape(who)))
	})
	if a.typingTimer != nil {
		a.typingTimer.Stop()
	}
	a.typingTimer = time.AfterFunc(client.TypingIndicatorTTL, func() {
		a.ui.QueueUpdateDraw(func() {
			a.typingView.SetText("")
		})
	})
}

func (a *chatApp) onPresence(_ string, online bool) {
	a.ui.QueueUpdateDraw(func() {
		if online {
			a.presenceView.SetText("[green]● online[-]")
		} else {
			a.presenceView.SetText("[red]○ offline[-]")
		}
	})
}

func (a *chatApp) onPartnerDisconnected() {
	a.appendSystem("Partner disconnected.")
}

func (a *chatApp) onError(message string) {
	a.appendSystem("Error: " + message)
}

func (a *chatApp) writeMessage(msg protocol.Message, mine bool) {
	who := msg.FromUsername
	color := "green"
	if mine {
		who = "You"
		color = "blue"
	} else if who == "" {
		who = msg.FromPin
	}
	ts := time.UnixMilli(msg.Ts).Format("15:04:05")
	fmt.Fprintf(a.chatView, "[%s]%s[-] [gray]%s[-]  %s\n", color, tview.Escape(who), ts, tview.Escape(msg.Text))
}

func (a *chatApp) appendSystem(text string) {
	a.ui.QueueUpdateDraw(func() {
		fmt.Fprintf(a.chatView, "[gray::i]%s[-:-:-]\n", tview.Escape(text))
	})
}
