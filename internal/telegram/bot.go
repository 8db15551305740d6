package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/koromind/koro/internal/config"
)

// Bot runs the Telegram long-poll loop and routes updates to the
// handler.
type Bot struct {
	api       *tgbotapi.BotAPI
	handler   *Handler
	allowlist map[int64]bool
	logger    zerolog.Logger
}

// New authenticates against the Bot API and wires the handler. The
// handler config's API field is filled in with the authenticated
// client.
func New(cfg *config.TelegramConfig, handlerCfg HandlerConfig, logger zerolog.Logger) (*Bot, error) {
	if cfg == nil || cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	handlerCfg.API = api
	handler, err := NewHandler(handlerCfg)
	if err != nil {
		return nil, err
	}

	allowlist := make(map[int64]bool, len(cfg.Allowlist))
	for _, id := range cfg.Allowlist {
		allowlist[id] = true
	}

	bot := &Bot{
		api:       api,
		handler:   handler,
		allowlist: allowlist,
		logger:    logger.With().Str("component", "telegram").Logger(),
	}
	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("telegram bot authenticated")
	return bot, nil
}

// API exposes the underlying client for the handler wiring.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// Run processes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Info().Msg("telegram bot started")
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("telegram bot stopping")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.route(ctx, update)
		}
	}
}

// route dispatches one update. Each message is handled in its own
// goroutine so a long runtime call never blocks other users.
func (b *Bot) route(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if !b.permitted(update.CallbackQuery.From.ID) {
			return
		}
		go b.guard(func() { b.handler.HandleCallback(ctx, update.CallbackQuery) })
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || !b.permitted(msg.From.ID) {
			b.logger.Debug().Msg("ignoring message from non-allowlisted user")
			return
		}
		switch {
		case msg.IsCommand():
			go b.guard(func() { b.handler.HandleCommand(ctx, msg) })
		case msg.Voice != nil || msg.Audio != nil:
			go b.guard(func() { b.handler.HandleVoice(ctx, msg) })
		case msg.Text != "":
			go b.guard(func() { b.handler.HandleText(ctx, msg) })
		}
	}
}

// permitted applies the allowlist; an empty allowlist admits everyone.
func (b *Bot) permitted(userID int64) bool {
	if len(b.allowlist) == 0 {
		return true
	}
	return b.allowlist[userID]
}

func (b *Bot) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("handler panicked")
		}
	}()
	fn()
}
