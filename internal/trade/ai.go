package trade

import (
	"encoding/json"
	"net/http"

	"github.com/stockflow/market-sim/internal/assistant"
)

// AskRequest is the JSON body for POST /assistant.
type AskRequest struct {
	Query   string              `json:"query"`
	History []assistant.Message `json:"history"`
}

// AskResponse is the body returned from POST /assistant.
type AskResponse struct {
	Reply string `json:"reply"`
}

// AvatarRequest is the JSON body for POST /avatar.
type AvatarRequest struct {
	Prompt string `json:"prompt"`
}

// AvatarResponse is the body returned from POST /avatar.
type AvatarResponse struct {
	AvatarDataURI string `json:"avatarDataUri"`
}

// Ask handles POST /assistant
func (s *Service) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.assistant.Reply(r.Context(), req.Query, req.History)
	if err != nil {
		s.logger.Warn("assistant reply failed", "err", err)
		status, msg := statusFor(err)
		writeError(w, msg, status)
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{Reply: reply})
}

// GenerateAvatar handles POST /avatar
// Only generates the image; saving it is a regular account update.
func (s *Service) GenerateAvatar(w http.ResponseWriter, r *http.Request) {
	var req AvatarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	uri, err := s.assistant.Avatar(r.Context(), req.Prompt)
	if err != nil {
		s.logger.Warn("avatar generation failed", "err", err)
		status, msg := statusFor(err)
		writeError(w, msg, status)
		return
	}
	writeJSON(w, http.StatusOK, AvatarResponse{AvatarDataURI: uri})
}
