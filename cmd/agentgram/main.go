// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentgram/agentgram/content"
	"github.com/agentgram/agentgram/lib/config"
	"github.com/agentgram/agentgram/lib/version"
	"github.com/agentgram/agentgram/session"
	"github.com/agentgram/agentgram/stream"
	"github.com/agentgram/agentgram/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := ""
	verbose := false

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 >= len(args) {
				return fmt.Errorf("--config requires an argument")
			}
			i++
			configPath = args[i]
		case arg == "--verbose" || arg == "-v":
			verbose = true
		case arg == "--help" || arg == "-h":
			printUsage()
			return nil
		case arg == "--version":
			fmt.Printf("agentgram %s\n", version.Info())
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Verbose enables Debug level for per-tick pipeline events;
	// default Info shows only session lifecycle and errors.
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	client, err := telegram.New(telegram.Config{
		Token:  cfg.Telegram.Token,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	manager, err := session.NewManager(session.ManagerConfig{
		Session: session.Config{
			Command: cfg.Agent.Command,
			Dir:     cfg.Agent.Dir,
			Rows:    cfg.Terminal.Rows,
			Cols:    cfg.Terminal.Cols,
			Content: content.Config{
				CodeColors:    content.DefaultConfig().CodeColors,
				GapTolerance:  cfg.Content.CodeGapTolerance,
				InlineCodeMax: cfg.Content.InlineCodeMax,
			},
			Stream: stream.Config{
				Limit:             cfg.Delivery.MessageLimit,
				EditInterval:      cfg.EditInterval(),
				KeepAliveInterval: cfg.KeepAliveInterval(),
			},
			Logger: logger,
		},
		TransportFor: func(chatID int64) stream.Transport {
			return client.Chat(chatID)
		},
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go manager.Run(ctx)

	bot := &botLoop{
		client:  client,
		manager: manager,
		cfg:     cfg,
		logger:  logger,
	}
	return bot.run(ctx)
}

func printUsage() {
	fmt.Print(`agentgram - drive a terminal coding agent from Telegram

USAGE
    agentgram [flags]

FLAGS
    -c, --config <path>    Config file (default: $AGENTGRAM_CONFIG)
    -v, --verbose          Enable per-tick debug logging
    -h, --help             Show this help
        --version          Print version and exit

CHAT COMMANDS
    /new       Start a fresh agent session (replaces any running one)
    /kill      Kill the session
    /stop      Send Ctrl-C to the agent
    /status    Show live sessions
    /screen    Dump the raw terminal screen

Any other message is typed into the agent's terminal. Sessions start
automatically on the first message.
`)
}

// botLoop consumes Telegram updates and routes them to sessions.
type botLoop struct {
	client  *telegram.Client
	manager *session.Manager
	cfg     *config.Config
	logger  *slog.Logger
}

func (b *botLoop) run(ctx context.Context) error {
	updates := b.client.Updates(b.cfg.Telegram.UpdateTimeout)
	defer b.client.StopUpdates()

	b.logger.Info("agentgram ready", "bot", b.client.Username())
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("shutting down")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handle(ctx, update)
		}
	}
}

func (b *botLoop) handle(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// handleCallback answers an inline keyboard press by pressing the
// matching number in the agent's terminal.
func (b *botLoop) handleCallback(_ context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID
	if !b.cfg.AllowsChat(chatID) {
		b.logger.Warn("callback from disallowed chat", "chat", chatID)
		return
	}

	ack := ""
	if n, ok := telegram.ParseOptionCallback(query.Data); ok {
		if s := b.manager.Get(chatID); s != nil {
			if err := s.SendOption(n); err != nil {
				b.logger.Warn("option press failed", "chat", chatID, "error", err)
				ack = "couldn't reach the session"
			}
		} else {
			ack = "no session running"
		}
	}
	if err := b.client.AnswerCallback(query.ID, ack); err != nil {
		b.logger.Warn("callback answer failed", "error", err)
	}
}

func (b *botLoop) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !b.cfg.AllowsChat(chatID) {
		b.logger.Warn("message from disallowed chat", "chat", chatID)
		return
	}
	if msg.Text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, chatID, msg.Command())
		return
	}

	s := b.manager.Get(chatID)
	if s == nil {
		var err error
		s, err = b.manager.Start(chatID)
		if err != nil {
			b.reply(ctx, chatID, fmt.Sprintf("couldn't start the agent: %v", err))
			return
		}
		b.logger.Info("session auto-started", "chat", chatID)
	}
	if err := s.SendText(msg.Text); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("couldn't reach the agent: %v", err))
	}
}

func (b *botLoop) handleCommand(ctx context.Context, chatID int64, command string) {
	switch command {
	case "new":
		if _, err := b.manager.Start(chatID); err != nil {
			b.reply(ctx, chatID, fmt.Sprintf("couldn't start the agent: %v", err))
			return
		}
		b.reply(ctx, chatID, "session started")

	case "kill":
		if b.manager.Stop(chatID) {
			b.reply(ctx, chatID, "session killed")
		} else {
			b.reply(ctx, chatID, "no session running")
		}

	case "stop":
		if s := b.manager.Get(chatID); s != nil {
			if err := s.Interrupt(); err != nil {
				b.reply(ctx, chatID, fmt.Sprintf("interrupt failed: %v", err))
			}
		} else {
			b.reply(ctx, chatID, "no session running")
		}

	case "status":
		b.reply(ctx, chatID, formatStatus(b.manager.Status()))

	case "screen":
		if s := b.manager.Get(chatID); s != nil {
			b.reply(ctx, chatID, strings.Join(s.Snapshot(), "\n"))
		} else {
			b.reply(ctx, chatID, "no session running")
		}

	case "start", "help":
		b.reply(ctx, chatID, "Send a message to talk to the agent. /new restarts it, /kill stops it, /status lists sessions.")

	default:
		b.reply(ctx, chatID, fmt.Sprintf("unknown command /%s", command))
	}
}

func formatStatus(infos []session.Info) string {
	if len(infos) == 0 {
		return "no live sessions"
	}
	lines := make([]string, len(infos))
	for i, info := range infos {
		state := info.Phase
		if info.Exited {
			state = "exited"
		}
		lines[i] = fmt.Sprintf("chat %d: %s", info.ChatID, state)
	}
	return strings.Join(lines, "\n")
}

func (b *botLoop) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.client.Chat(chatID).SendMessage(ctx, text, false); err != nil {
		b.logger.Warn("reply failed", "chat", chatID, "error", err)
	}
}
