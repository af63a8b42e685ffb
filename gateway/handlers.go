package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"twocheck/core/protocol"
	"twocheck/native/anomaly"
	"twocheck/native/dispute"
	"twocheck/native/evidence"
	"twocheck/native/transfer"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, transfer.ErrNotFound), errors.Is(err, dispute.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transfer.ErrUnauthorized), errors.Is(err, dispute.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, transfer.ErrAlreadyExists),
		errors.Is(err, transfer.ErrInvalidTransition),
		errors.Is(err, dispute.ErrInvalidTransition),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrAlreadyDecided):
		status = http.StatusConflict
	case errors.Is(err, protocol.ErrSubmissionBlocked), errors.Is(err, protocol.ErrEmergencyStop):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return false
	}
	return true
}

type submitTransactionRequest struct {
	ID       string            `json:"id"`
	Sender   string            `json:"sender"`
	Receiver string            `json:"receiver"`
	ItemID   string            `json:"itemId"`
	Value    int64             `json:"value"`
	Type     string            `json:"type"`
	Category string            `json:"category"`
	Metadata map[string]string `json:"metadata"`
}

type submitTransactionResponse struct {
	Transaction *transfer.Transaction `json:"transaction,omitempty"`
	Analysis    *anomaly.Analysis     `json:"analysis,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, analysis, err := s.protocol.SubmitTransaction(r.Context(), transfer.CreateRequest{
		ID:       req.ID,
		Sender:   req.Sender,
		Receiver: req.Receiver,
		ItemID:   req.ItemID,
		Value:    req.Value,
		Type:     req.Type,
		Category: req.Category,
		Metadata: req.Metadata,
	})
	if err != nil {
		if errors.Is(err, protocol.ErrSubmissionBlocked) {
			s.writeJSON(w, http.StatusUnprocessableEntity, submitTransactionResponse{Analysis: analysis, Error: err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, submitTransactionResponse{Transaction: tx, Analysis: analysis})
}

type confirmRequest struct {
	Actor      string `json:"actor"`
	EvidenceID string `json:"evidenceId"`
}

func (s *Server) confirmSent(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, err := s.protocol.ConfirmSent(r.Context(), chi.URLParam(r, "id"), req.Actor, req.EvidenceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) confirmReceived(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	tx, err := s.protocol.ConfirmReceived(r.Context(), chi.URLParam(r, "id"), req.Actor, req.EvidenceID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

type openDisputeRequest struct {
	Creator     string   `json:"creator"`
	Kind        string   `json:"kind"`
	Reason      string   `json:"reason"`
	EvidenceIDs []string `json:"evidenceIds"`
}

func (s *Server) openDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.protocol.OpenDispute(r.Context(), chi.URLParam(r, "id"), req.Creator, req.Kind, req.Reason, req.EvidenceIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, d)
}

type submitEvidenceRequest struct {
	Kind        string         `json:"kind"`
	SubmittedBy string         `json:"submittedBy"`
	Data        map[string]any `json:"data"`
}

type submitEvidenceResponse struct {
	Evidence         *evidence.Evidence `json:"evidence"`
	RequestFulfilled bool               `json:"requestFulfilled"`
}

func (s *Server) submitEvidence(w http.ResponseWriter, r *http.Request) {
	var req submitEvidenceRequest
	if !s.decode(w, r, &req) {
		return
	}
	ev, fulfilled, err := s.protocol.SubmitEvidence(r.Context(), chi.URLParam(r, "id"), req.Kind, req.Data, req.SubmittedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, submitEvidenceResponse{Evidence: ev, RequestFulfilled: fulfilled})
}

type resolveDisputeRequest struct {
	DecidedBy  string  `json:"decidedBy"`
	Decision   string  `json:"decision"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	Actions    []struct {
		Type   string `json:"type"`
		Target string `json:"target"`
		Amount int64  `json:"amount"`
	} `json:"actions"`
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if !s.decode(w, r, &req) {
		return
	}
	res := dispute.Resolution{
		DecidedBy:  req.DecidedBy,
		Decision:   dispute.Decision(req.Decision),
		Reasoning:  req.Reasoning,
		Confidence: req.Confidence,
	}
	for _, action := range req.Actions {
		res.Actions = append(res.Actions, dispute.ResolutionAction{
			Type:   dispute.ActionType(action.Type),
			Target: action.Target,
			Amount: action.Amount,
		})
	}
	d, err := s.protocol.ResolveDispute(r.Context(), chi.URLParam(r, "id"), res)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

func (s *Server) updateDisputeStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !s.decode(w, r, &req) {
		return
	}
	d, err := s.protocol.UpdateDisputeStatus(chi.URLParam(r, "id"), dispute.Status(req.Status), req.Actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

type compensationDecisionRequest struct {
	Approver string `json:"approver"`
	Approve  bool   `json:"approve"`
}

func (s *Server) decideCompensation(w http.ResponseWriter, r *http.Request) {
	var req compensationDecisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	comp, err := s.protocol.DecideCompensation(r.Context(), chi.URLParam(r, "id"), req.Approver, req.Approve)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, comp)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.protocol.Transaction(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "state query parameter required"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.protocol.TransactionsByState(transfer.State(state)))
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.protocol.EvidenceForTransaction(chi.URLParam(r, "id")))
}

func (s *Server) listEscalations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.protocol.EscalationHistory(chi.URLParam(r, "id")))
}

func (s *Server) pendingFor(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.protocol.PendingFor(chi.URLParam(r, "id")))
}

func (s *Server) disputesFor(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.protocol.OpenDisputesFor(chi.URLParam(r, "id")))
}

func (s *Server) trustScore(w http.ResponseWriter, r *http.Request) {
	score, err := s.protocol.TrustScore(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, score)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	board, err := s.protocol.Leaderboard(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, board)
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.protocol.Dispute(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}
