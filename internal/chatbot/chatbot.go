package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"SmargeChat/internal/auth"
	"SmargeChat/internal/backend"
	"SmargeChat/internal/chat"
	"SmargeChat/internal/config"
	"SmargeChat/internal/history"
	"SmargeChat/internal/sidebar"
	"SmargeChat/internal/telemetry"
	"SmargeChat/internal/transcript"

	"github.com/mattn/go-runewidth"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// listTitleWidth is the terminal width titles are cut to in /list
const listTitleWidth = 48

var errOffline = errors.New("sending is disabled in offline mode")

// offlineTransport stands in for the API when browsing local history
type offlineTransport struct{}

func (offlineTransport) StreamChat(ctx context.Context, req backend.ChatRequest) (backend.Stream, error) {
	return nil, &backend.TransportError{Op: "send message", Err: errOffline}
}

// syncedStore lists and deletes on the server and keeps the local
// history in step, so a conversation deleted online does not come back
// in offline mode
type syncedStore struct {
	remote sidebar.Store
	local  *history.Recorder
}

func (s syncedStore) ListConversations(ctx context.Context) ([]transcript.ConversationSummary, error) {
	return s.remote.ListConversations(ctx)
}

func (s syncedStore) DeleteConversation(ctx context.Context, id string) error {
	if err := s.remote.DeleteConversation(ctx, id); err != nil {
		return err
	}
	// queued behind any pending save of the same conversation
	return s.local.Delete(ctx, id)
}

// ChatBot represents the main application
type ChatBot struct {
	config config.Config
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	in     Input
	out    io.Writer

	client     *backend.Client // nil when offline
	auth       *auth.Service   // nil when offline
	history    *history.Store
	recorder   *history.Recorder // nil when offline
	controller *chat.Controller
	sidebar    *sidebar.Sidebar

	closers []func()
}

// NewChatBot wires the application together. Lines are read from in and
// the conversation is written to out. The ChatBot closes in when it is
// closed.
func NewChatBot(cfg config.Config, in Input, out io.Writer) (*ChatBot, error) {
	if err := cfg.Validate(); err != nil {
		in.Close()
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cb := &ChatBot{
		config: cfg,
		logger: logger,
		in:     in,
		out:    out,
	}
	cb.closers = append(cb.closers, func() { logFile.Close() }, func() { in.Close() })

	if err := cb.init(); err != nil {
		cb.Close()
		return nil, err
	}
	return cb, nil
}

func (cb *ChatBot) init() error {
	ctx := context.Background()
	cfg := cb.config

	if cfg.Debug {
		cb.logger.Info("Debug mode enabled")
	}

	if cfg.Telemetry {
		tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		cb.tracer, cb.meter = tracer, meter
		cb.closers = append(cb.closers, cleanup)
	} else {
		cb.tracer = tracenoop.NewTracerProvider().Tracer(telemetry.ServiceName)
		cb.meter = metricnoop.NewMeterProvider().Meter(telemetry.ServiceName)
	}

	hist, err := history.Open(cfg.HistoryPath(), cb.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize history: %w", err)
	}
	cb.history = hist
	cb.closers = append(cb.closers, func() {
		if err := hist.Close(); err != nil {
			cb.logger.Error("failed to close history", "error", err)
		}
	})

	var (
		transport chat.Transport
		loader    chat.ConversationLoader
		store     sidebar.Store
	)
	if cfg.Offline {
		transport, loader, store = offlineTransport{}, hist, hist
	} else {
		creds := auth.NewStore(cfg.CredentialsPath())
		if err := creds.Load(); err != nil {
			cb.logger.Warn("failed to load credentials, continuing logged out", "error", err)
		}

		client, err := backend.NewClient(backend.ClientConfig{
			BaseURL:   cfg.APIURL,
			Timeout:   cfg.RequestTimeout,
			ChunkSize: cfg.ChunkSize,
			Tokens:    creds,
			Logger:    cb.logger,
			Tracer:    cb.tracer,
			Meter:     cb.meter,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize API client: %w", err)
		}
		cb.client = client
		cb.auth = auth.NewService(client, creds, cb.logger)
		transport, loader = client, client

		rec := history.NewRecorder(hist, cb.logger)
		// runs before the history close registered above
		cb.closers = append(cb.closers, func() { rec.Close() })
		cb.recorder = rec
		store = syncedStore{remote: client, local: rec}
	}

	controller, err := chat.NewController(chat.Config{
		Transport: transport,
		Loader:    loader,
		Logger:    cb.logger,
		Tracer:    cb.tracer,
		Meter:     cb.meter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat: %w", err)
	}
	cb.controller = controller
	cb.controller.Subscribe(newPrinter(cb.out))

	if cb.recorder != nil {
		cb.closers = append(cb.closers, controller.Subscribe(cb.recorder))
	}

	cb.sidebar = sidebar.New(store, controller, cb.logger)

	if cfg.ConversationID != "" {
		if err := controller.LoadConversation(ctx, cfg.ConversationID); err != nil {
			cb.logger.Warn("failed to load conversation, starting a new one", "error", err)
			fmt.Fprintf(cb.out, "Could not open conversation %s, starting a new one\n", cfg.ConversationID)
		}
	}

	cb.logger.Info("chatbot initialized", "api_url", cfg.APIURL, "offline", cfg.Offline)
	return nil
}

// Close releases everything NewChatBot opened, newest first
func (cb *ChatBot) Close() {
	for i := len(cb.closers) - 1; i >= 0; i-- {
		cb.closers[i]()
	}
	cb.closers = nil
}

// readLine returns the next trimmed input line. ok is false once input
// has ended; any error other than io.EOF is returned as well.
func (cb *ChatBot) readLine(prompt string) (line string, ok bool, err error) {
	line, err = cb.in.ReadLine(prompt)
	if errors.Is(err, io.EOF) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(line), true, nil
}

// readPassword prompts for a secret. ok is false if input ended first.
func (cb *ChatBot) readPassword() (string, bool) {
	password, err := cb.in.ReadPassword("Password: ")
	if err != nil {
		if !errors.Is(err, io.EOF) {
			cb.logger.Error("failed to read password", "error", err)
		}
		return "", false
	}
	return password, true
}

// requireOnline rejects commands that need the API
func (cb *ChatBot) requireOnline() error {
	if cb.config.Offline {
		return errOffline
	}
	return nil
}

// resolve maps a list position or id to a conversation id, fetching the
// list first if it has never been loaded. Unknown ids are passed through
// unless strict is set.
func (cb *ChatBot) resolve(ctx context.Context, ref string, strict bool) (string, error) {
	_, convErr := strconv.Atoi(ref)
	passThrough := convErr != nil && !strict

	if !cb.sidebar.Loaded() {
		if err := cb.sidebar.Refresh(ctx); err != nil {
			if passThrough {
				return ref, nil
			}
			return "", err
		}
	}
	id, err := cb.sidebar.Resolve(ref)
	if err == nil {
		return id, nil
	}
	if passThrough {
		return ref, nil
	}
	return "", err
}

func (cb *ChatBot) printConversations() {
	items := cb.sidebar.Items()
	if len(items) == 0 {
		fmt.Fprintln(cb.out, "No conversations yet.")
		return
	}
	current := cb.controller.ConversationID()
	fmt.Fprintln(cb.out, "\nConversations:")
	for i, item := range items {
		marker := ""
		if item.ID == current {
			marker = " (current)"
		}
		title := runewidth.Truncate(item.Title, listTitleWidth, "...")
		fmt.Fprintf(cb.out, "%d. %s [%s]%s\n", i+1, title, item.ID, marker)
	}
	fmt.Fprintln(cb.out)
}

func (cb *ChatBot) printTranscript() {
	state := cb.controller.Snapshot()
	if len(state.Turns) == 0 {
		fmt.Fprintln(cb.out, "(empty conversation)")
		return
	}
	for _, turn := range state.Turns {
		label := "You"
		if turn.Role == transcript.RoleAssistant {
			label = "Bot"
		}
		fmt.Fprintf(cb.out, "%s: %s\n", label, turn.Content)
	}
	fmt.Fprintln(cb.out)
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		if err := cb.sidebar.NewChat(ctx); err != nil {
			// the panel is reset either way
			cb.logger.Warn("failed to refresh conversations", "error", err)
		}
		fmt.Fprintln(cb.out, "Started new conversation")
		return false, nil

	case "/list":
		if err := cb.sidebar.Refresh(ctx); err != nil {
			return false, fmt.Errorf("failed to list conversations: %w", err)
		}
		cb.printConversations()
		return false, nil

	case "/open":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /open <number|id>")
		}
		id, err := cb.resolve(ctx, parts[1], false)
		if err != nil {
			return false, err
		}
		if err := cb.sidebar.Select(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "Opened conversation %s\n\n", id)
		cb.printTranscript()
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <number|id>")
		}
		id, err := cb.resolve(ctx, parts[1], true)
		if err != nil {
			return false, err
		}
		if err := cb.sidebar.Delete(ctx, id); err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "Deleted conversation %s\n", id)
		return false, nil

	case "/history":
		cb.printTranscript()
		return false, nil

	case "/login":
		if err := cb.requireOnline(); err != nil {
			return false, err
		}
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /login <email>")
		}
		password, ok := cb.readPassword()
		if !ok {
			return true, nil
		}
		if err := cb.auth.Login(ctx, parts[1], password); err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "Logged in as %s\n", parts[1])
		cb.controller.StartNewConversation()
		if err := cb.sidebar.Refresh(ctx); err != nil {
			cb.logger.Warn("failed to refresh conversations after login", "error", err)
		}
		return false, nil

	case "/register":
		if err := cb.requireOnline(); err != nil {
			return false, err
		}
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /register <username> <email>")
		}
		password, ok := cb.readPassword()
		if !ok {
			return true, nil
		}
		if err := cb.auth.Register(ctx, parts[1], parts[2], password); err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "Registered and logged in as %s\n", parts[1])
		cb.controller.StartNewConversation()
		return false, nil

	case "/logout":
		if err := cb.requireOnline(); err != nil {
			return false, err
		}
		if err := cb.auth.Logout(); err != nil {
			return false, err
		}
		cb.controller.StartNewConversation()
		fmt.Fprintln(cb.out, "Logged out")
		return false, nil

	case "/whoami":
		if err := cb.requireOnline(); err != nil {
			return false, err
		}
		user, err := cb.auth.Whoami(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(cb.out, "%s <%s> (id %s)\n", user.Username, user.Email, user.ID)
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /quit, /exit                  - Exit the chatbot")
		fmt.Fprintln(cb.out, "  /new                          - Start a new conversation")
		fmt.Fprintln(cb.out, "  /list                         - List your conversations")
		fmt.Fprintln(cb.out, "  /open <number|id>             - Open a conversation")
		fmt.Fprintln(cb.out, "  /delete <number|id>           - Delete a conversation")
		fmt.Fprintln(cb.out, "  /history                      - Show the current conversation")
		if !cb.config.Offline {
			fmt.Fprintln(cb.out, "  /login <email>                - Log in")
			fmt.Fprintln(cb.out, "  /register <username> <email>  - Create an account")
			fmt.Fprintln(cb.out, "  /logout                       - Log out")
			fmt.Fprintln(cb.out, "  /whoami                       - Show the current user")
		}
		fmt.Fprintln(cb.out, "  /help                         - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", parts[0])
	}
}

// sendMessage submits one line and reports failures the printer has not
// already shown
func (cb *ChatBot) sendMessage(ctx context.Context, text string) {
	if cb.config.Offline {
		fmt.Fprintf(cb.out, "Error: %v\n", errOffline)
		return
	}

	err := cb.controller.Submit(ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, backend.ErrUnauthorized):
		fmt.Fprintln(cb.out, "Not logged in or session expired. Use /login <email>.")
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrEmptyMessage):
		fmt.Fprintf(cb.out, "Error: %v\n", err)
	default:
		// the error reply is already on screen
		cb.logger.Debug("message failed", "kind", backend.ErrorKind(err), "error", err)
	}
}

// Run starts the chat loop and returns when input ends, /quit is entered
// or ctx is cancelled
func (cb *ChatBot) Run(ctx context.Context) error {
	defer cb.Close()

	mode := "online"
	if cb.config.Offline {
		mode = "offline (local history)"
	}
	fmt.Fprintln(cb.out, "=== SmargeChat ===")
	fmt.Fprintf(cb.out, "Server: %s\n", cb.config.APIURL)
	fmt.Fprintf(cb.out, "Mode: %s\n", mode)
	if id := cb.controller.ConversationID(); id != "" {
		fmt.Fprintf(cb.out, "Conversation: %s\n", id)
	}
	if cb.auth != nil && !cb.auth.Authenticated() {
		fmt.Fprintln(cb.out, "Not logged in. Use /login <email> or /register <username> <email>.")
	}
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	for ctx.Err() == nil {
		input, ok, err := cb.readLine("You: ")
		if err != nil {
			cb.logger.Error("failed to read input", "error", err)
			return err
		}
		if !ok {
			break
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "command", strings.Fields(input)[0], "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		cb.sendMessage(ctx, input)
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}
