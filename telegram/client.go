// Copyright 2026 The Agentgram Authors
// SPDX-License-Identifier: Apache-2.0

// Package telegram binds the delivery pipeline to the Telegram Bot
// API. A Client wraps one bot; Chat scopes it to a single chat and
// satisfies stream.Transport, translating Telegram's stringly error
// vocabulary into the stream sentinels.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentgram/agentgram/stream"
)

// OptionCallbackPrefix tags inline keyboard callback data carrying an
// approval option index.
const OptionCallbackPrefix = "opt:"

// Config configures a Client.
type Config struct {
	// Token is the bot token from @BotFather. Required.
	Token string

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client is one connected bot.
type Client struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// New connects the bot and verifies the token with a getMe call.
func New(config Config) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("telegram: missing bot token")
	}
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if config.HTTPClient != nil {
		bot, err = tgbotapi.NewBotAPIWithClient(config.Token, tgbotapi.APIEndpoint, config.HTTPClient)
	} else {
		bot, err = tgbotapi.NewBotAPI(config.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot connected", "username", bot.Self.UserName)
	return &Client{bot: bot, logger: logger}, nil
}

// Username returns the bot's own username.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// Updates opens the long-polling update stream.
func (c *Client) Updates(timeoutSeconds int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSeconds
	return c.bot.GetUpdatesChan(u)
}

// StopUpdates tears down the long-polling stream.
func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

// AnswerCallback acknowledges an inline keyboard press so the client
// stops showing its progress spinner.
func (c *Client) AnswerCallback(callbackID, text string) error {
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return mapError(err)
}

// Chat scopes the client to one chat.
func (c *Client) Chat(chatID int64) *Chat {
	return &Chat{client: c, chatID: chatID}
}

// Chat is a chat-bound transport.
type Chat struct {
	client *Client
	chatID int64
}

var _ stream.Transport = (*Chat)(nil)

// SendMessage posts a new message and returns its id.
func (t *Chat) SendMessage(_ context.Context, text string, rich bool) (stream.MessageID, error) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if rich {
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
	}
	sent, err := t.client.bot.Send(msg)
	if err != nil {
		return 0, mapError(err)
	}
	return stream.MessageID(sent.MessageID), nil
}

// EditMessage replaces the text of an existing message. Telegram's
// "message is not modified" complaint maps to success: the surface
// already shows what we wanted.
func (t *Chat) EditMessage(_ context.Context, id stream.MessageID, text string, rich bool) error {
	edit := tgbotapi.NewEditMessageText(t.chatID, int(id), text)
	if rich {
		edit.ParseMode = tgbotapi.ModeHTML
	}
	_, err := t.client.bot.Request(edit)
	return mapError(err)
}

// SendTyping shows the "typing…" indicator for a few seconds.
func (t *Chat) SendTyping(context.Context) error {
	_, err := t.client.bot.Request(tgbotapi.NewChatAction(t.chatID, tgbotapi.ChatTyping))
	return mapError(err)
}

// SendOptions posts an approval prompt with one inline button per
// option. Button presses come back as callback queries whose data is
// OptionCallbackPrefix plus the 1-based option number.
func (t *Chat) SendOptions(_ context.Context, prompt string, options []string) (stream.MessageID, error) {
	msg := tgbotapi.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = optionKeyboard(options)
	sent, err := t.client.bot.Send(msg)
	if err != nil {
		return 0, mapError(err)
	}
	return stream.MessageID(sent.MessageID), nil
}

func optionKeyboard(options []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for i, option := range options {
		data := OptionCallbackPrefix + strconv.Itoa(i+1)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(option, data),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ParseOptionCallback extracts the 1-based option number from
// callback data produced by SendOptions.
func ParseOptionCallback(data string) (int, bool) {
	rest, ok := strings.CutPrefix(data, OptionCallbackPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// mapError folds the Bot API's error strings onto the stream
// sentinels the pipeline degrades on.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	description := err.Error()
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		description = apiErr.Message
	}
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "message is not modified"):
		return nil
	case strings.Contains(lower, "can't parse entities"):
		return fmt.Errorf("%w: %s", stream.ErrBadFormat, description)
	case strings.Contains(lower, "message can't be edited"),
		strings.Contains(lower, "message to edit not found"):
		return fmt.Errorf("%w: %s", stream.ErrNotEditable, description)
	default:
		return fmt.Errorf("telegram: %s", description)
	}
}
