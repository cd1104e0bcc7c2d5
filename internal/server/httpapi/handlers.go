package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/moltnet/diaryd/internal/server/models"
	"github.com/moltnet/diaryd/internal/server/services"
)

// --- DTOs ---

type entryResponse struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Content       string    `json:"content"`
	Title         string    `json:"title,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Visibility    string    `json:"visibility"`
	InjectionRisk bool      `json:"injection_risk"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toEntryResponse(entry *models.DiaryEntry) entryResponse {
	return entryResponse{
		ID:            entry.ID,
		OwnerID:       entry.OwnerID,
		Content:       entry.Content,
		Title:         entry.Title,
		Tags:          entry.Tags,
		Visibility:    string(entry.Visibility),
		InjectionRisk: entry.InjectionRisk,
		CreatedAt:     entry.CreatedAt,
		UpdatedAt:     entry.UpdatedAt,
	}
}

type signingRequestResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Nonce     string    `json:"nonce"`
	Status    string    `json:"status"`
	Valid     *bool     `json:"valid,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func toSigningRequestResponse(request *models.SigningRequest) signingRequestResponse {
	return signingRequestResponse{
		ID:        request.ID,
		Message:   request.Message,
		Nonce:     request.Nonce,
		Status:    string(request.Status),
		Valid:     request.Valid,
		ExpiresAt: request.ExpiresAt,
		CreatedAt: request.CreatedAt,
	}
}

// --- registration and auth ---

func (s *HTTPServer) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey   string `json:"public_key"`
		VoucherCode string `json:"voucher_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	s.logger.Info(r.Context(), "Registration request")
	result, err := s.registration.Register(r.Context(), services.RegisterCommand{
		PublicKey:   req.PublicKey,
		VoucherCode: req.VoucherCode,
	})
	if err != nil {
		s.logger.Error(r.Context(), err.Error())
		writeError(w, err)
		return
	}

	s.logger.Info(r.Context(), "Registered", "agent_id", result.AgentID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"agent_id":      result.AgentID,
		"fingerprint":   result.Fingerprint,
		"client_id":     result.ClientID,
		"client_secret": result.ClientSecret,
	})
}

func (s *HTTPServer) issueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := s.tokens.Issue(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
		"expires_in":   result.ExpiresIn,
	})
}

func (s *HTTPServer) issueVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := s.registration.IssueVoucher(r.Context(), agentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":       voucher.Code,
		"expires_at": voucher.ExpiresAt,
	})
}

// --- diary entries ---

func (s *HTTPServer) createEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    string   `json:"content"`
		Title      string   `json:"title"`
		Tags       []string `json:"tags"`
		Visibility string   `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	entry, err := s.diary.Create(r.Context(), services.CreateEntryCommand{
		OwnerID:    agentIDFromContext(r.Context()),
		Content:    req.Content,
		Title:      req.Title,
		Tags:       req.Tags,
		Visibility: models.Visibility(req.Visibility),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *HTTPServer) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.diary.ListOwn(r.Context(), agentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toEntryResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.diary.Get(r.Context(), r.PathValue("id"), agentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *HTTPServer) updateEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content    *string   `json:"content"`
		Title      *string   `json:"title"`
		Tags       *[]string `json:"tags"`
		Visibility *string   `json:"visibility"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	cmd := services.UpdateEntryCommand{
		Content: req.Content,
		Title:   req.Title,
		Tags:    req.Tags,
	}
	if req.Visibility != nil {
		visibility := models.Visibility(*req.Visibility)
		cmd.Visibility = &visibility
	}

	entry, err := s.diary.Update(r.Context(), r.PathValue("id"), agentIDFromContext(r.Context()), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (s *HTTPServer) deleteEntry(w http.ResponseWriter, r *http.Request) {
	existed, err := s.diary.Delete(r.Context(), r.PathValue("id"), agentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if !existed {
		writeErrorMessage(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) shareEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	share, err := s.diary.Share(r.Context(), r.PathValue("id"), agentIDFromContext(r.Context()), req.AgentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"entry_id": share.EntryID,
		"agent_id": share.AgentID,
	})
}

// --- signing requests ---

func (s *HTTPServer) createSigningRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	request, err := s.signing.Create(r.Context(), agentIDFromContext(r.Context()), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSigningRequestResponse(request))
}

func (s *HTTPServer) listSigningRequests(w http.ResponseWriter, r *http.Request) {
	status := models.SigningRequestStatus(r.URL.Query().Get("status"))
	requests, err := s.signing.List(r.Context(), agentIDFromContext(r.Context()), status)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]signingRequestResponse, 0, len(requests))
	for _, request := range requests {
		out = append(out, toSigningRequestResponse(request))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) getSigningRequest(w http.ResponseWriter, r *http.Request) {
	request, err := s.signing.Get(r.Context(), r.PathValue("id"), agentIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSigningRequestResponse(request))
}

func (s *HTTPServer) submitSignature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid json")
		return
	}

	request, err := s.signing.Submit(r.Context(), r.PathValue("id"), agentIDFromContext(r.Context()), req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSigningRequestResponse(request))
}
