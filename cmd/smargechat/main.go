package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"SmargeChat/internal/chatbot"
	"SmargeChat/internal/config"
)

func main() {
	var (
		configPath     string
		apiURL         string
		conversationID string
		logDir         string
		dataDir        string
		timeout        time.Duration
		debug          bool
		offline        bool
		noTelemetry    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default ~/.smargechat/config.toml)")
	flag.StringVar(&apiURL, "api-url", config.DefaultAPIURL, "SmargeAI API base URL")
	flag.StringVar(&conversationID, "conversation-id", "", "Open an existing conversation by ID")
	flag.StringVar(&logDir, "log-dir", "", "Directory for logs, traces and metrics")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for credentials and local history")
	flag.DurationVar(&timeout, "timeout", config.DefaultRequestTimeout, "Timeout for non-streaming requests")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&offline, "offline", false, "Browse local history without contacting the API")
	flag.BoolVar(&noTelemetry, "no-telemetry", false, "Disable trace and metric files")

	flag.Parse()

	cfg := config.Default()
	path, required := config.DefaultFile(), false
	if configPath != "" {
		path, required = configPath, true
	}
	if err := config.LoadFile(path, required, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// only flags given on the command line override file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-url":
			cfg.APIURL = apiURL
		case "log-dir":
			cfg.LogDir = logDir
		case "data-dir":
			cfg.DataDir = dataDir
		case "timeout":
			cfg.RequestTimeout = timeout
		case "debug":
			cfg.Debug = debug
		case "no-telemetry":
			cfg.Telemetry = !noTelemetry
		}
	})
	cfg.ConversationID = conversationID
	cfg.Offline = offline

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	input := chatbot.NewTerminalInput(filepath.Join(cfg.DataDir, "input_history"))
	bot, err := chatbot.NewChatBot(cfg, input, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	if err := bot.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
