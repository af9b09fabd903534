// Package bot implements the Telegram notification dispatcher.
//
// It delivers fire-and-forget notices to pass owners (visitor arrived,
// pass revoked, payment received) and operational alerts to management
// users. Delivery failures are swallowed and logged here; nothing in a
// scan response ever waits for Telegram.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"

	"passgate/entity"
	"passgate/lib/sl"
)

// Database defines the storage operations the bot depends on.
// Implemented by internal/database/mongo.go.
type Database interface {
	GetUserById(ctx context.Context, id string) (*entity.User, error)
	GetTelegramUserById(telegramId int64) (*entity.User, error)
	LinkTelegram(apiToken string, telegramId int64) error
	SetTelegramEnabled(telegramId int64, enabled bool) error
	GetManagementTelegramUsers() ([]*entity.User, error)
}

// TgBot is the Telegram transport. Users link their account with
// /start <api-token>; after that their passes produce push notices.
type TgBot struct {
	log     *slog.Logger
	api     *tgbotapi.Bot
	db      Database
	mu      sync.RWMutex // guards mgmtIds
	mgmtIds []int64
	updater *ext.Updater
}

func NewTgBot(apiKey string, db Database, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log: log.With(sl.Module("tgbot")),
		db:  db,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) Start() error {
	t.loadManagement()

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("stop", t.stop))
	dispatcher.AddHandler(handlers.NewCommand("status", t.status))

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
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

// loadManagement caches the management chat ids used for operational
// alerts. Refreshed whenever a user links or unlinks.
func (t *TgBot) loadManagement() {
	if t.db == nil {
		return
	}
	users, err := t.db.GetManagementTelegramUsers()
	if err != nil {
		t.log.Error("loading management users", sl.Err(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.mgmtIds = nil
	for _, user := range users {
		t.mgmtIds = append(t.mgmtIds, user.TelegramId)
	}
	t.log.With(slog.Int("count", len(t.mgmtIds))).Debug("loaded management users")
}

// start links a Telegram chat to the passgate account whose API token
// is passed as the command argument.
func (t *TgBot) start(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Send /start followed by your passgate API token to link this chat\\.")
		return nil
	}
	if err := t.db.LinkTelegram(args[1], chatId); err != nil {
		t.log.With(slog.Int64("chat_id", chatId)).Warn("link telegram", sl.Err(err))
		t.plainResponse(chatId, "Could not link: token not recognized\\.")
		return nil
	}
	t.loadManagement()
	t.plainResponse(chatId, "Linked\\. You will receive notices for your passes\\.")
	return nil
}

func (t *TgBot) stop(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	if err := t.db.SetTelegramEnabled(chatId, false); err != nil {
		t.log.With(slog.Int64("chat_id", chatId)).Warn("disable telegram", sl.Err(err))
		return nil
	}
	t.loadManagement()
	t.plainResponse(chatId, "Notifications disabled\\. Send /start with your token to enable again\\.")
	return nil
}

func (t *TgBot) status(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	user, err := t.db.GetTelegramUserById(chatId)
	if err != nil || user == nil {
		t.plainResponse(chatId, "This chat is not linked\\.")
		return nil
	}
	state := "disabled"
	if user.TelegramEnabled {
		state = "enabled"
	}
	t.plainResponse(chatId, fmt.Sprintf("Linked as *%s*, notifications %s\\.", Sanitize(user.Username), state))
	return nil
}
