package bot

import (
	"ChatRelay/entity"
	"ChatRelay/internal/lib/sl"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
)

// StatusSource reports relay connectivity for the /status command.
type StatusSource interface {
	RelayStatus() entity.RelayStatus
}

// TgBot sends relay alerts to the admin chat and answers admin commands.
type TgBot struct {
	log         *slog.Logger
	api         *tgbotapi.Bot
	updater     *ext.Updater
	botUsername string
	adminId     int64
	status      StatusSource
}

func NewTgBot(botName, apiKey string, adminId int64, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log:         log.With(sl.Module("tgbot")),
		adminId:     adminId,
		botUsername: botName,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) SetStatusSource(status StatusSource) {
	t.status = status
}

// Start polls for admin commands until Stop is called.
func (t *TgBot) Start() error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		// If an error is returned by a handler, log it and continue going.
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Warn("handling update", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	dispatcher.AddHandler(handlers.NewCommand("status", t.handleStatus))

	t.updater = ext.NewUpdater(dispatcher, nil)
	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("start polling: %w", err)
	}
	t.log.Info("telegram bot started", slog.String("bot", t.botUsername))

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater == nil {
		return
	}
	if err := t.updater.Stop(); err != nil {
		t.log.Warn("stopping updater", sl.Err(err))
	}
}

func (t *TgBot) handleStatus(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	if chatId != t.adminId {
		t.log.Debug("status requested by unknown chat", slog.Int64("id", chatId))
		return nil
	}
	if t.status == nil {
		t.plainResponse(chatId, "Relay status is not available")
		return nil
	}
	t.plainResponse(chatId, formatStatus(t.status.RelayStatus()))
	return nil
}

func formatStatus(status entity.RelayStatus) string {
	upstream := "offline"
	if status.Connected {
		upstream = "online"
	}
	return fmt.Sprintf("Bot gateway: %s (%s)\nState: %s\nStaff clients: %d",
		upstream, status.URL, status.State, status.StaffClients)
}

// SendMessage sends msg to the admin chat.
func (t *TgBot) SendMessage(msg string) {
	t.plainResponse(t.adminId, msg)
}

func (t *TgBot) plainResponse(chatId int64, text string) {
	sanitized := sanitize(text)
	if sanitized == "" {
		t.log.With(
			slog.Int64("id", chatId),
		).Debug("empty message")
		return
	}

	_, err := t.api.SendMessage(chatId, sanitized, &tgbotapi.SendMessageOpts{
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		t.log.With(
			slog.Int64("id", chatId),
		).Warn("sending message", sl.Err(err))
		_, err = t.api.SendMessage(chatId, text, &tgbotapi.SendMessageOpts{})
		if err != nil {
			t.log.With(
				slog.Int64("id", chatId),
			).Error("sending safe message", sl.Err(err))
		}
	}
}

// sanitize escapes the characters MarkdownV2 reserves.
func sanitize(input string) string {
	const reservedChars = "\\`_*{}#+-.!|()[]~>="

	var b strings.Builder
	b.Grow(len(input))
	for _, char := range input {
		if strings.ContainsRune(reservedChars, char) {
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
