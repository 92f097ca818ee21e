// Fastsock — CLI entry point.
//
// This tool is a terminal client for the chat server: it keeps one
// reconnecting WebSocket event channel open and drives messaging,
// presence and WebRTC audio/video calls over it.
//
// It can be launched with flags (-server, -token, -user, -debug) or
// interactively; missing values are prompted for.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/fastsock/fastsock/internal/call"
	"github.com/fastsock/fastsock/internal/channel"
	"github.com/fastsock/fastsock/internal/chat"
	"github.com/fastsock/fastsock/internal/config"
	"github.com/fastsock/fastsock/internal/creds"
	"github.com/fastsock/fastsock/internal/ice"
	"github.com/fastsock/fastsock/internal/media"
	"github.com/fastsock/fastsock/internal/notify"
	"github.com/fastsock/fastsock/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	serverFlag := flag.String("server", "", "Server base URL (http/https)")
	tokenFlag := flag.String("token", "", "Session token")
	userFlag := flag.Int("user", 0, "Your user id")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Fastsock — v%s", version))
	pterm.Println()

	cfg := &config.Config{
		ServerURL: *serverFlag,
		Token:     *tokenFlag,
		UserID:    *userFlag,
		Debug:     *debugMode,
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = askText("Server URL (e.g. https://chat.example.com)")
	}
	if err := cfg.Normalize(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if cfg.Token == "" {
		cfg.Token = askText("Session token")
	}

	run(ctx, cfg)
	util.LogInfo("session closed")
}

// run wires the client together and drives the command loop until the
// context is cancelled or the user quits.
func run(ctx context.Context, cfg *config.Config) {
	notifier := notify.Term{}

	store := creds.NewStore(cfg.Token)

	ch := channel.New(channel.Config{
		URL:      cfg.WebSocketURL(),
		Creds:    store,
		Notifier: notifier,
	})

	acq, err := media.NewAcquirer()
	if err != nil {
		util.LogError("initializing media codecs: %v", err)
		os.Exit(1)
	}

	// ICE config is fetched lazily, once per session.
	var iceOnce sync.Once
	var iceServers []webrtc.ICEServer

	machine := call.NewMachine(call.Config{
		Signaler: call.NewSignaler(ch),
		Media:    capture{acq},
		NewPeer: func() (call.PeerConn, error) {
			iceOnce.Do(func() {
				iceServers = ice.Fetch(ctx, cfg.APIBase(), store.Get())
			})
			return acq.NewPeerConnection(iceServers)
		},
		Notifier:  notifier,
		Connected: ch.IsOpen,
	})

	tracker := chat.NewTracker(ch)
	defer tracker.Close()
	tracker.OnMessage(func(m chat.Message) {
		if m.RoomID != nil {
			pterm.Println(pterm.Cyan(fmt.Sprintf("[room %d] user %d: %s", *m.RoomID, m.SenderID, m.Content)))
			return
		}
		pterm.Println(pterm.Cyan(fmt.Sprintf("user %d: %s", m.SenderID, m.Content)))
	})

	unsubCalls := ch.Subscribe(machine.HandleEvent)
	defer unsubCalls()

	ch.Connect()
	defer ch.Shutdown()
	util.StartStatsReporter(ctx)

	commandLoop(ctx, cfg, store, ch, machine, tracker)

	machine.Hangup()
}

// capture adapts the media acquirer to the call machine's interface.
type capture struct {
	acq *media.Acquirer
}

func (c capture) Acquire(wantVideo bool) (call.LocalStream, error) {
	s, err := c.acq.Acquire(wantVideo)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Command loop
// ---------------------------------------------------------------------------

func commandLoop(ctx context.Context, cfg *config.Config, store *creds.Store, ch *channel.Channel, machine *call.Machine, tracker *chat.Tracker) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleCommand(strings.TrimSpace(line), store, ch, machine, tracker); quit {
				return
			}
		}
	}
}

func handleCommand(line string, store *creds.Store, ch *channel.Channel, machine *call.Machine, tracker *chat.Tracker) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "call":
		userID, ok := argInt(args, 0)
		if !ok {
			util.LogWarning("usage: call <user-id>")
			return false
		}
		if err := machine.StartCall(userID, nil); err != nil {
			util.LogError("call failed: %v", err)
		}

	case "accept":
		if err := machine.AcceptCall(); err != nil {
			util.LogError("accept failed: %v", err)
		}

	case "reject":
		if err := machine.RejectCall(); err != nil {
			util.LogError("reject failed: %v", err)
		}

	case "hangup":
		machine.Hangup()

	case "mute":
		if machine.Status() == call.StatusIdle {
			util.LogWarning("no active call")
		} else if machine.ToggleMute() {
			util.LogInfo("microphone muted")
		} else {
			util.LogInfo("microphone live")
		}

	case "camera":
		if machine.Status() == call.StatusIdle {
			util.LogWarning("no active call")
		} else if machine.ToggleCamera() {
			util.LogInfo("camera off")
		} else {
			util.LogInfo("camera on")
		}

	case "msg":
		userID, ok := argInt(args, 0)
		if !ok || len(args) < 2 {
			util.LogWarning("usage: msg <user-id> <text>")
			return false
		}
		tracker.SendMessage(strings.Join(args[1:], " "), userID, nil)

	case "room":
		roomID, ok := argInt(args, 0)
		if !ok || len(args) < 2 {
			util.LogWarning("usage: room <room-id> <text>")
			return false
		}
		tracker.SendMessage(strings.Join(args[1:], " "), 0, &roomID)

	case "react":
		messageID, ok := argInt(args, 0)
		if !ok || len(args) < 2 {
			util.LogWarning("usage: react <message-id> <emoji>")
			return false
		}
		tracker.React(messageID, args[1])

	case "who":
		online := tracker.Online()
		if len(online) == 0 {
			util.LogInfo("nobody online")
		} else {
			util.LogInfo("online: %v", online)
		}
		if typing := tracker.TypingUsers(); len(typing) > 0 {
			util.LogInfo("typing: %v", typing)
		}

	case "status":
		util.LogInfo("channel: %s, call: %s", ch.State(), machine.Status())

	case "logout":
		// Tear the session down: no reconnects until a new token arrives.
		store.Clear()
		machine.HandleAuthLost()
		ch.Shutdown()
		util.LogInfo("logged out")

	case "quit", "exit":
		return true

	case "help":
		printHelp()

	default:
		util.LogWarning("unknown command %q (try: help)", cmd)
	}
	return false
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func argInt(args []string, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, false
	}
	return n, true
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}
		util.LogWarning("a value is required")
		pterm.Println()
	}
}

func printHelp() {
	pterm.Println(strings.Join([]string{
		"Commands:",
		"  call <user-id>          place an audio/video call",
		"  accept | reject         answer or decline a ringing call",
		"  hangup                  end the current call",
		"  mute | camera           toggle microphone / camera",
		"  msg <user-id> <text>    send a direct message",
		"  room <room-id> <text>   send a room message",
		"  react <msg-id> <emoji>  react to a message",
		"  who                     list online and typing users",
		"  status                  show channel and call state",
		"  logout                  drop the session token",
		"  quit                    exit",
	}, "\n"))
}
