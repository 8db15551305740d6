package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/koromind/koro/pkg/state"
)

// HandleCallback processes an inline keyboard press.
func (h *Handler) HandleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	userID := strconv.FormatInt(cb.From.ID, 10)
	data := cb.Data

	switch {
	case strings.HasPrefix(data, "approve_"):
		h.resolveApproval(cb, userID, strings.TrimPrefix(data, "approve_"), true)
	case strings.HasPrefix(data, "reject_"):
		h.resolveApproval(cb, userID, strings.TrimPrefix(data, "reject_"), false)
	case strings.HasPrefix(data, "switch_"):
		h.switchFromCallback(cb, userID, strings.TrimPrefix(data, "switch_"))
	case strings.HasPrefix(data, "setting_"):
		h.applySetting(cb, userID, strings.TrimPrefix(data, "setting_"))
	default:
		h.answerCallback(cb.ID, "")
	}
}

func (h *Handler) resolveApproval(cb *tgbotapi.CallbackQuery, userID, approvalID string, approved bool) {
	resolved := h.brain.ResolveApproval(approvalID, approved, userID)
	if !resolved {
		h.answerCallback(cb.ID, "This approval has expired.")
		return
	}

	outcome := "approved"
	answer := "Approved"
	if !approved {
		outcome = "denied"
		answer = "Rejected"
	}
	h.metrics.ApprovalsTotal.WithLabelValues(outcome).Inc()
	h.answerCallback(cb.ID, answer)

	// Drop the keyboard so the buttons can't be pressed twice.
	if cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID,
			fmt.Sprintf("%s\n\n%s", cb.Message.Text, answer))
		if _, err := h.api.Send(edit); err != nil {
			h.logger.Warn().Err(err).Msg("failed to edit approval prompt")
		}
	}
}

func (h *Handler) switchFromCallback(cb *tgbotapi.CallbackQuery, userID, sessionID string) {
	if err := h.store.SetCurrentSession(userID, sessionID); err != nil {
		h.logger.Error().Err(err).Msg("failed to switch session")
		h.answerCallback(cb.ID, "Couldn't switch sessions.")
		return
	}
	current, ok, err := h.store.GetCurrentSession(userID)
	if err == nil && ok && current.ID == sessionID {
		h.answerCallback(cb.ID, fmt.Sprintf("Switched to %s", sessionLabel(current)))
		return
	}
	h.answerCallback(cb.ID, "That session no longer exists.")
}

// applySetting mutates one settings field and re-renders the menu in
// place.
func (h *Handler) applySetting(cb *tgbotapi.CallbackQuery, userID, action string) {
	settings, err := h.store.GetOrCreateSettings(userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load settings")
		h.answerCallback(cb.ID, "Couldn't load settings.")
		return
	}

	var update state.SettingsUpdate
	switch {
	case action == "audio_toggle":
		next := !settings.AudioEnabled
		update.AudioEnabled = &next
	case action == "mode_toggle":
		next := state.ModeGoAll
		if settings.Mode == state.ModeGoAll {
			next = state.ModeApprove
		}
		update.Mode = &next
	case action == "watch_toggle":
		next := !settings.WatchEnabled
		update.WatchEnabled = &next
	case strings.HasPrefix(action, "speed_"):
		speed, err := strconv.ParseFloat(strings.TrimPrefix(action, "speed_"), 64)
		if err != nil {
			h.answerCallback(cb.ID, "")
			return
		}
		update.VoiceSpeed = &speed
	default:
		h.answerCallback(cb.ID, "")
		return
	}

	updated, err := h.store.UpdateSettings(userID, update)
	if err != nil {
		var validation *state.ValidationError
		if errors.As(err, &validation) {
			h.answerCallback(cb.ID, validation.Message)
			return
		}
		h.logger.Error().Err(err).Msg("failed to update settings")
		h.answerCallback(cb.ID, "Couldn't save that setting.")
		return
	}

	h.answerCallback(cb.ID, "Saved")
	if cb.Message != nil {
		markup := settingsKeyboard(updated)
		edit := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
			settingsText(updated), markup)
		if _, err := h.api.Send(edit); err != nil {
			h.logger.Warn().Err(err).Msg("failed to refresh settings menu")
		}
	}
}

// sendSettingsMenu posts the interactive settings message.
func (h *Handler) sendSettingsMenu(userID string, chatID int64) {
	settings, err := h.store.GetOrCreateSettings(userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load settings")
		h.reply(chatID, "Couldn't load your settings.")
		return
	}
	menu := tgbotapi.NewMessage(chatID, settingsText(settings))
	menu.ReplyMarkup = settingsKeyboard(settings)
	if _, err := h.api.Send(menu); err != nil {
		h.logger.Warn().Err(err).Msg("failed to send settings menu")
	}
}

func settingsText(s state.Settings) string {
	var b strings.Builder
	b.WriteString("Settings\n")
	fmt.Fprintf(&b, "Mode: %s\n", modeLabel(s.Mode))
	fmt.Fprintf(&b, "Audio replies: %s\n", onOff(s.AudioEnabled))
	fmt.Fprintf(&b, "Voice speed: %.1fx\n", s.VoiceSpeed)
	fmt.Fprintf(&b, "Tool watch: %s", onOff(s.WatchEnabled))
	return b.String()
}

func settingsKeyboard(s state.Settings) tgbotapi.InlineKeyboardMarkup {
	modeButton := "Mode: require approval"
	if s.Mode == state.ModeApprove {
		modeButton = "Mode: run automatically"
	}
	audioButton := "Audio: turn on"
	if s.AudioEnabled {
		audioButton = "Audio: turn off"
	}
	watchButton := "Watch: turn on"
	if s.WatchEnabled {
		watchButton = "Watch: turn off"
	}

	speedRow := make([]tgbotapi.InlineKeyboardButton, 0, 4)
	for _, speed := range []float64{0.7, 0.9, 1.1, 1.2} {
		label := fmt.Sprintf("%.1fx", speed)
		if speed == s.VoiceSpeed {
			label = "• " + label
		}
		speedRow = append(speedRow, tgbotapi.NewInlineKeyboardButtonData(
			label, fmt.Sprintf("setting_speed_%.1f", speed)))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(modeButton, "setting_mode_toggle"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(audioButton, "setting_audio_toggle"),
			tgbotapi.NewInlineKeyboardButtonData(watchButton, "setting_watch_toggle"),
		),
		tgbotapi.NewInlineKeyboardRow(speedRow...),
	)
}

func (h *Handler) answerCallback(callbackID, text string) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		h.logger.Warn().Err(err).Msg("failed to answer callback query")
	}
}
