package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/koromind/koro/pkg/brain"
	"github.com/koromind/koro/pkg/state"
	"github.com/koromind/koro/pkg/voice"
)

// messageRequest is the POST /v1/messages payload.
type messageRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Model     string `json:"model,omitempty"`
}

// messageResponse is the POST /v1/messages result.
type messageResponse struct {
	Text      string     `json:"text"`
	SessionID string     `json:"session_id"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	Turns     int        `json:"turns"`
	CostUSD   float64    `json:"cost_usd"`
	Duration  string     `json:"duration"`
}

type toolCall struct {
	Name   string `json:"name"`
	Denied bool   `json:"denied,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return
	}

	input := brain.Input{
		UserID:    req.UserID,
		Text:      req.Text,
		SessionID: req.SessionID,
	}
	if req.Mode != "" {
		input.Overrides.Mode = &req.Mode
	}
	if req.Model != "" {
		input.Overrides.Model = &req.Model
	}
	// Audio replies make no sense over this surface.
	audioOff := false
	input.Overrides.AudioEnabled = &audioOff

	start := time.Now()
	response, err := s.brain.Process(r.Context(), input)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("message processing failed")
		writeProcessError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveMessage("api", "ok", time.Since(start))
	}

	out := messageResponse{
		Text:      response.Text,
		SessionID: response.SessionID,
		Turns:     response.Metadata.Turns,
		CostUSD:   response.Metadata.CostUSD,
		Duration:  response.Metadata.Duration.String(),
	}
	for _, call := range response.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, toolCall{Name: call.Name, Denied: call.Denied})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeProcessError maps pipeline errors to HTTP statuses.
func writeProcessError(w http.ResponseWriter, err error) {
	var validation *state.ValidationError
	if errors.As(err, &validation) {
		writeError(w, http.StatusBadRequest, validation.Error())
		return
	}
	var notConfigured *brain.NotConfiguredError
	if errors.As(err, &notConfigured) {
		writeError(w, http.StatusNotImplemented, notConfigured.Error())
		return
	}
	var transcription *voice.TranscriptionError
	if errors.As(err, &transcription) {
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	var runtimeErr *brain.RuntimeInvocationError
	if errors.As(err, &runtimeErr) {
		writeError(w, http.StatusBadGateway, "runtime invocation failed")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

type sessionView struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
	IsCurrent  bool   `json:"is_current"`
}

func sessionViewOf(s state.Session) sessionView {
	return sessionView{
		ID:         s.ID,
		Name:       s.Name,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
		LastActive: s.LastActive.Format(time.RFC3339),
		IsCurrent:  s.IsCurrent,
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		sessions, err := s.store.ListSessions(userID)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to list sessions")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		views := make([]sessionView, 0, len(sessions))
		for _, session := range sessions {
			views = append(views, sessionViewOf(session))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})

	case http.MethodPost:
		var req struct {
			UserID string `json:"user_id"`
			Name   string `json:"name,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		session, err := s.store.CreateSession(req.UserID, req.Name)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to create session")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if s.metrics != nil {
			s.metrics.SessionsCreated.Inc()
		}
		writeJSON(w, http.StatusCreated, sessionViewOf(session))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		session, ok, err := s.store.GetCurrentSession(userID)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to load current session")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no current session")
			return
		}
		writeJSON(w, http.StatusOK, sessionViewOf(session))

	case http.MethodPost:
		var req struct {
			UserID    string `json:"user_id"`
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if req.SessionID == "" {
			if err := s.store.ClearCurrentSession(req.UserID); err != nil {
				s.logger.Error().Err(err).Msg("failed to clear current session")
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
			return
		}
		if err := s.store.SetCurrentSession(req.UserID, req.SessionID); err != nil {
			s.logger.Error().Err(err).Msg("failed to set current session")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		session, ok, err := s.store.GetCurrentSession(req.UserID)
		if err != nil || !ok || session.ID != req.SessionID {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sessionViewOf(session))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type settingsView struct {
	UserID       string  `json:"user_id"`
	Mode         string  `json:"mode"`
	AudioEnabled bool    `json:"audio_enabled"`
	VoiceSpeed   float64 `json:"voice_speed"`
	WatchEnabled bool    `json:"watch_enabled"`
	Model        string  `json:"model,omitempty"`
	Language     string  `json:"language,omitempty"`
}

func settingsViewOf(s state.Settings) settingsView {
	return settingsView{
		UserID:       s.UserID,
		Mode:         s.Mode,
		AudioEnabled: s.AudioEnabled,
		VoiceSpeed:   s.VoiceSpeed,
		WatchEnabled: s.WatchEnabled,
		Model:        s.Model,
		Language:     s.Language,
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		settings, err := s.store.GetOrCreateSettings(userID)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to load settings")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, settingsViewOf(settings))

	case http.MethodPatch:
		var req struct {
			UserID       string   `json:"user_id"`
			Mode         *string  `json:"mode,omitempty"`
			AudioEnabled *bool    `json:"audio_enabled,omitempty"`
			VoiceSpeed   *float64 `json:"voice_speed,omitempty"`
			WatchEnabled *bool    `json:"watch_enabled,omitempty"`
			Model        *string  `json:"model,omitempty"`
			Language     *string  `json:"language,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		settings, err := s.store.UpdateSettings(req.UserID, state.SettingsUpdate{
			Mode:         req.Mode,
			AudioEnabled: req.AudioEnabled,
			VoiceSpeed:   req.VoiceSpeed,
			WatchEnabled: req.WatchEnabled,
			Model:        req.Model,
			Language:     req.Language,
		})
		if err != nil {
			var validation *state.ValidationError
			if errors.As(err, &validation) {
				writeError(w, http.StatusBadRequest, validation.Error())
				return
			}
			s.logger.Error().Err(err).Msg("failed to update settings")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, settingsViewOf(settings))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
