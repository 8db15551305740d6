package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/koromind/koro/pkg/state"
)

// HandleCommand dispatches a /command message.
func (h *Handler) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := userIDOf(msg)
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		h.reply(chatID, "Hi! Send me a text or voice message and I'll put the agent to work.\n\n"+
			"/new — start a fresh conversation\n"+
			"/sessions — list your conversations\n"+
			"/switch — switch to another conversation\n"+
			"/settings — adjust mode, audio, and speed\n"+
			"/status — show the current state\n"+
			"/reset — back to defaults")

	case "new":
		if err := h.store.ClearCurrentSession(userID); err != nil {
			h.logger.Error().Err(err).Msg("failed to clear current session")
			h.reply(chatID, "Couldn't start a new conversation. Please try again.")
			return
		}
		if args != "" {
			if _, err := h.store.UpdateSettings(userID, state.SettingsUpdate{PendingSessionName: &args}); err != nil {
				h.logger.Warn().Err(err).Msg("failed to store pending session name")
			}
		}
		h.reply(chatID, "Started a new conversation. Your next message opens a fresh session.")

	case "sessions":
		h.listSessions(userID, chatID)

	case "switch":
		h.switchSession(userID, chatID, args)

	case "settings":
		h.sendSettingsMenu(userID, chatID)

	case "status":
		h.sendStatus(userID, chatID)

	case "reset":
		if _, err := h.store.ResetSettings(userID); err != nil {
			h.logger.Error().Err(err).Msg("failed to reset settings")
			h.reply(chatID, "Couldn't reset your settings. Please try again.")
			return
		}
		if err := h.store.ClearCurrentSession(userID); err != nil {
			h.logger.Warn().Err(err).Msg("failed to clear current session")
		}
		h.limiter.Reset(userID)
		h.reply(chatID, "Settings reset to defaults and conversation cleared.")

	default:
		h.reply(chatID, "Unknown command. Try /start for the list.")
	}
}

func (h *Handler) listSessions(userID string, chatID int64) {
	sessions, err := h.store.ListSessions(userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list sessions")
		h.reply(chatID, "Couldn't load your sessions.")
		return
	}
	if len(sessions) == 0 {
		h.reply(chatID, "No sessions yet. Just send a message to start one.")
		return
	}

	var b strings.Builder
	b.WriteString("Your conversations (most recent first):\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, session := range sessions {
		label := session.Name
		if label == "" {
			label = shortID(session.ID)
		}
		marker := ""
		if session.IsCurrent {
			marker = " ← current"
		}
		fmt.Fprintf(&b, "%d. %s (%s)%s\n", i+1, label, session.LastActive.Format("Jan 2 15:04"), marker)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d. %s", i+1, label), "switch_"+session.ID),
		))
	}

	list := tgbotapi.NewMessage(chatID, b.String())
	list.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := h.api.Send(list); err != nil {
		h.logger.Warn().Err(err).Msg("failed to send session list")
	}
}

// switchSession accepts a 1-based list position or a full session id.
func (h *Handler) switchSession(userID string, chatID int64, arg string) {
	if arg == "" {
		h.reply(chatID, "Usage: /switch <number|session id> — see /sessions.")
		return
	}

	target := arg
	if index, err := strconv.Atoi(arg); err == nil {
		sessions, err := h.store.ListSessions(userID)
		if err != nil || index < 1 || index > len(sessions) {
			h.reply(chatID, "No such session. See /sessions.")
			return
		}
		target = sessions[index-1].ID
	}

	if err := h.store.SetCurrentSession(userID, target); err != nil {
		h.logger.Error().Err(err).Msg("failed to switch session")
		h.reply(chatID, "Couldn't switch sessions. Please try again.")
		return
	}

	current, ok, err := h.store.GetCurrentSession(userID)
	if err == nil && ok && current.ID == target {
		h.reply(chatID, fmt.Sprintf("Switched to %s.", sessionLabel(current)))
		return
	}
	h.reply(chatID, "No such session. See /sessions.")
}

func (h *Handler) sendStatus(userID string, chatID int64) {
	settings, err := h.store.GetOrCreateSettings(userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load settings")
		h.reply(chatID, "Couldn't load your status.")
		return
	}

	var b strings.Builder
	b.WriteString("Status\n")
	if current, ok, err := h.store.GetCurrentSession(userID); err == nil && ok {
		fmt.Fprintf(&b, "Session: %s\n", sessionLabel(current))
	} else {
		b.WriteString("Session: none (next message starts one)\n")
	}
	fmt.Fprintf(&b, "Mode: %s\n", modeLabel(settings.Mode))
	fmt.Fprintf(&b, "Audio replies: %s\n", onOff(settings.AudioEnabled))
	fmt.Fprintf(&b, "Voice speed: %.1fx\n", settings.VoiceSpeed)
	fmt.Fprintf(&b, "Tool watch: %s\n", onOff(settings.WatchEnabled))
	if settings.Model != "" {
		fmt.Fprintf(&b, "Model: %s\n", settings.Model)
	}
	h.reply(chatID, b.String())
}

func sessionLabel(session state.Session) string {
	if session.Name != "" {
		return session.Name
	}
	return shortID(session.ID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func modeLabel(mode string) string {
	if mode == state.ModeApprove {
		return "approve each tool"
	}
	return "run tools automatically"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
