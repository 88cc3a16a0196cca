package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"banklink/internal/domain/banking"
	"banklink/internal/infrastructure/linkapi"
	"banklink/internal/session"
	"banklink/internal/shared/middleware"
)

const maxBodyBytes = 1 << 20

// BankLinkHandler exposes the sync engine's intents to authenticated users.
// Every handler opens the caller's session on first use.
type BankLinkHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

func NewBankLinkHandler(sessions *session.Manager, logger *zap.Logger) *BankLinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BankLinkHandler{sessions: sessions, logger: logger.With(zap.String("component", "http"))}
}

type CompleteLinkRequest struct {
	PublicToken string                `json:"publicToken"`
	Metadata    *banking.LinkMetadata `json:"metadata"`
}

type ReorderRequest struct {
	AccountIDs []string `json:"accountIds"`
}

type BalancesRequest struct {
	Show *bool `json:"show"`
}

// session resolves the caller's open session, writing the failure response
// itself when it returns false.
func (h *BankLinkHandler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}

	s, err := h.sessions.Open(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to open session", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to open session")
		return nil, false
	}
	return s, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// upstreamStatus maps a backend failure to the status the caller sees.
func upstreamStatus(err error) int {
	var apiErr *linkapi.Error
	if errors.As(err, &apiErr) && apiErr.Kind == linkapi.KindClient {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// HandleState returns the caller's current state.
func (h *BankLinkHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(s.Engine.State()))
}

// HandleLinkToken starts the connect flow.
func (h *BankLinkHandler) HandleLinkToken(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	token, err := s.Engine.Connect(r.Context())
	if err != nil {
		writeStateError(w, upstreamStatus(err), linkapi.UserMessage(err), s.Engine.State())
		return
	}
	writeJSON(w, http.StatusOK, LinkTokenResponse{LinkToken: token, State: toStateResponse(s.Engine.State())})
}

// HandleLinkComplete receives the public token the linking UI produced.
func (h *BankLinkHandler) HandleLinkComplete(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req CompleteLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PublicToken == "" {
		writeError(w, http.StatusBadRequest, "publicToken is required")
		return
	}

	if err := s.Engine.CompleteLink(r.Context(), req.PublicToken, req.Metadata); err != nil {
		writeStateError(w, upstreamStatus(err), linkapi.UserMessage(err), s.Engine.State())
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(s.Engine.State()))
}

// HandleLinkExit records that the user left the linking UI.
func (h *BankLinkHandler) HandleLinkExit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var exit banking.LinkExit
	if !decodeBody(w, r, &exit) {
		return
	}

	s.Engine.AbortLink(exit)
	writeJSON(w, http.StatusOK, toStateResponse(s.Engine.State()))
}

// HandleDisconnect removes an account. The local removal always succeeds;
// the response says whether the backend confirmed it.
func (h *BankLinkHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "Account ID is required")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}

	outcome := s.Engine.Disconnect(r.Context(), accountID)
	writeJSON(w, http.StatusOK, toDisconnectResponse(outcome, s.Engine.State()))
}

func (h *BankLinkHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req ReorderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	changed := s.Engine.Reorder(r.Context(), req.AccountIDs)
	writeJSON(w, http.StatusOK, ReorderResponse{Changed: changed, State: toStateResponse(s.Engine.State())})
}

// HandleRefresh runs a refresh now. Without linked accounts it is a no-op.
func (h *BankLinkHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := s.Engine.Refresh(r.Context()); err != nil {
		writeStateError(w, upstreamStatus(err), linkapi.UserMessage(err), s.Engine.State())
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(s.Engine.State()))
}

func (h *BankLinkHandler) HandleBalances(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req BalancesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Show == nil {
		writeError(w, http.StatusBadRequest, "show is required")
		return
	}

	s.Engine.SetShowBalances(r.Context(), *req.Show)
	writeJSON(w, http.StatusOK, toStateResponse(s.Engine.State()))
}

func (h *BankLinkHandler) HandleOnboarded(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	s.Engine.MarkOnboarded(r.Context())
	writeJSON(w, http.StatusOK, toStateResponse(s.Engine.State()))
}

// HandleSessionClose stops the caller's background refresh. With
// ?logout=true the persisted session is cleared as well.
func (h *BankLinkHandler) HandleSessionClose(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if r.URL.Query().Get("logout") == "true" {
		if err := h.sessions.Logout(r.Context(), userID); err != nil {
			h.logger.Error("logout failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to clear session")
			return
		}
	} else {
		h.sessions.Close(userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BankLinkHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.sessions.Len(),
	})
}
