package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/koromind/koro/internal/metrics"
	"github.com/koromind/koro/pkg/brain"
	"github.com/koromind/koro/pkg/ratelimit"
	"github.com/koromind/koro/pkg/state"
	"github.com/koromind/koro/pkg/voice"
)

// Telegram caps message text at 4096 characters.
const maxMessageLen = 4096

// sender is the slice of the Bot API the handler needs. Tests inject a
// fake; *tgbotapi.BotAPI satisfies it.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Handler turns Telegram updates into brain calls and renders the
// structured responses back as messages, buttons, and voice notes.
type Handler struct {
	api     sender
	brain   *brain.Brain
	store   *state.Store
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
	client  *http.Client
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	API     sender
	Brain   *brain.Brain
	Store   *state.Store
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("bot API is required")
	}
	if cfg.Brain == nil {
		return nil, fmt.Errorf("brain is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.New()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Handler{
		api:     cfg.API,
		brain:   cfg.Brain,
		store:   cfg.Store,
		limiter: limiter,
		metrics: m,
		logger:  cfg.Logger.With().Str("component", "telegram_handler").Logger(),
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func userIDOf(msg *tgbotapi.Message) string {
	return strconv.FormatInt(msg.From.ID, 10)
}

// HandleText processes a plain text message.
func (h *Handler) HandleText(ctx context.Context, msg *tgbotapi.Message) {
	h.process(ctx, msg, brain.Input{
		UserID: userIDOf(msg),
		Text:   msg.Text,
	}, "text")
}

// HandleVoice downloads a voice note and processes it as audio input.
func (h *Handler) HandleVoice(ctx context.Context, msg *tgbotapi.Message) {
	fileID := ""
	if msg.Voice != nil {
		fileID = msg.Voice.FileID
	} else if msg.Audio != nil {
		fileID = msg.Audio.FileID
	}

	audio, err := h.downloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to download voice note")
		h.reply(msg.Chat.ID, "Sorry, I couldn't download that voice note.")
		return
	}

	h.process(ctx, msg, brain.Input{
		UserID: userIDOf(msg),
		Audio:  audio,
	}, "audio")
}

// process is the shared pipeline: rate limit, brain call, render.
func (h *Handler) process(ctx context.Context, msg *tgbotapi.Message, input brain.Input, kind string) {
	start := time.Now()
	chatID := msg.Chat.ID

	if allowed, hint := h.limiter.Check(input.UserID); !allowed {
		h.metrics.RateLimited.Inc()
		h.reply(chatID, hint)
		return
	}

	h.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	input.OnToolStart = func(name, summary string) {
		text := fmt.Sprintf("🔧 %s", name)
		if summary != "" {
			text = fmt.Sprintf("🔧 %s: %s", name, summary)
		}
		h.reply(chatID, text)
	}
	input.OnApprovalRequest = func(approvalID, toolName, summary string) {
		h.sendApprovalPrompt(chatID, approvalID, toolName, summary)
	}

	response, err := h.brain.Process(ctx, input)
	if err != nil {
		h.metrics.ObserveMessage(kind, "error", time.Since(start))
		h.logger.Error().Err(err).Str("user_id", input.UserID).Msg("processing failed")
		h.reply(chatID, userFacingError(err))
		return
	}
	h.metrics.ObserveMessage(kind, "ok", time.Since(start))
	h.metrics.RuntimeCostUSD.Add(response.Metadata.CostUSD)
	for _, call := range response.ToolCalls {
		outcome := "executed"
		if call.Denied {
			outcome = "denied"
		}
		h.metrics.RuntimeToolCalls.WithLabelValues(call.Name, outcome).Inc()
	}

	if response.TranscribedText != "" {
		h.reply(chatID, fmt.Sprintf("🎙 %s", response.TranscribedText))
	}
	for _, chunk := range splitMessage(response.Text) {
		h.reply(chatID, chunk)
	}
	if len(response.Audio) > 0 {
		voiceNote := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "response.mp3", Bytes: response.Audio})
		if _, err := h.api.Send(voiceNote); err != nil {
			h.logger.Warn().Err(err).Msg("failed to send voice reply")
		}
	}
}

// sendApprovalPrompt posts the approve/reject keyboard for a pending
// tool call.
func (h *Handler) sendApprovalPrompt(chatID int64, approvalID, toolName, summary string) {
	text := fmt.Sprintf("The agent wants to run *%s*\n`%s`\n\nAllow?", toolName, summary)
	prompt := tgbotapi.NewMessage(chatID, text)
	prompt.ParseMode = tgbotapi.ModeMarkdown
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", "approve_"+approvalID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject", "reject_"+approvalID),
		),
	)
	if _, err := h.api.Send(prompt); err != nil {
		h.logger.Error().Err(err).Str("approval_id", approvalID).Msg("failed to send approval prompt")
	}
}

func (h *Handler) reply(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Warn().Err(err).Msg("failed to send message")
	}
}

func (h *Handler) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if fileID == "" {
		return nil, fmt.Errorf("message carries no audio file")
	}
	url, err := h.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// userFacingError maps typed pipeline failures to a message the user
// can act on.
func userFacingError(err error) string {
	var notConfigured *brain.NotConfiguredError
	if errors.As(err, &notConfigured) {
		return "Voice features are not configured on this deployment."
	}
	var transcription *voice.TranscriptionError
	if errors.As(err, &transcription) {
		return "Sorry, I couldn't transcribe that voice note. Please try again."
	}
	var runtimeErr *brain.RuntimeInvocationError
	if errors.As(err, &runtimeErr) {
		return "The agent failed to process your message. Your previous session is untouched."
	}
	return "Something went wrong. Please try again."
}

// splitMessage chunks text at Telegram's message size limit.
func splitMessage(text string) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	for len(text) > maxMessageLen {
		cut := maxMessageLen
		// Prefer breaking at a newline inside the window.
		found := false
		for i := maxMessageLen - 1; i > maxMessageLen-500 && i > 0; i-- {
			if text[i] == '\n' {
				cut = i
				found = true
				break
			}
		}
		// Never cut inside a multibyte rune.
		if !found {
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
