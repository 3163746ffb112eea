package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vatledger/internal/core"
	"vatledger/internal/ledger"
	"vatledger/internal/log"
	"vatledger/internal/services"
)

type spendingRequest struct {
	Date  textValue `json:"date"`
	Items []struct {
		Description textValue `json:"description"`
		Amount      textValue `json:"amount"`
		Status      textValue `json:"status"`
	} `json:"items"`
}

type vatRequest struct {
	Items []struct {
		Date   textValue `json:"date"`
		Amount textValue `json:"amount"`
	} `json:"items"`
}

type rangeRequest struct {
	From textValue `json:"from"`
	To   textValue `json:"to"`
}

type selectionRequest struct {
	Action string `json:"action"`
	Key    string `json:"key,omitempty"`
}

type proposeRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady reports ready once the initial load has completed, whether
// or not it succeeded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	if !s.svc.View().Loaded {
		status, code = "loading", http.StatusServiceUnavailable
	}
	NewJSONResponse().Status(code).Body(map[string]any{
		"status": status,
		"checks": map[string]any{
			"rate_limiter": map[string]any{"active_clients": s.limiter.ActiveClients()},
		},
	}).Write(w)
}

// handleMetrics writes counters in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", s.tracer.Requests())
	metric("rate_limit_hits_total", "counter", "Requests refused by the rate limiter", s.limiter.Hits())
	metric("suspicious_requests_total", "counter", "Requests rejected as probes", s.detector.SuspiciousRequests())
	metric("active_rate_limit_clients", "gauge", "Currently tracked rate limit clients", s.limiter.ActiveClients())
	metric("uptime_seconds", "gauge", "Application uptime in seconds", int64(time.Since(s.started).Seconds()))
	if s.cacheStats != nil {
		hits, misses := s.cacheStats()
		metric("cache_hits_total", "counter", "Backend cache hits", hits)
		metric("cache_misses_total", "counter", "Backend cache misses", misses)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.Refresh(ctx, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleSubmitSpending(w http.ResponseWriter, r *http.Request) {
	var req spendingRequest
	if !s.decode(w, r, &req) {
		return
	}
	items := make([]services.SpendingItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.SpendingItem{
			Description: it.Description.String(),
			Amount:      it.Amount.String(),
			Status:      it.Status.String(),
		})
	}

	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.SubmitSpending(ctx, req.Date.String(), items); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusCreated)
}

func (s *Server) handleSubmitVAT(w http.ResponseWriter, r *http.Request) {
	var req vatRequest
	if !s.decode(w, r, &req) {
		return
	}
	items := make([]services.VATItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, services.VATItem{Date: it.Date.String(), Amount: it.Amount.String()})
	}

	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.SubmitVAT(ctx, items); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusCreated)
}

func (s *Server) handleRecentVAT(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	entries, err := s.svc.RecentVAT(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, newEntryDTO(e, nil))
	}
	NewJSONResponse().Body(out).Write(w)
}

// handleLatest lists the most recently created entries; limit is optional.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequestError("limit must be a positive integer").Write(w)
			return
		}
		limit = n
	}

	ctx, cancel := s.context(r)
	defer cancel()
	l, err := s.svc.Latest(ctx, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(newLedgerDTO(l, nil)).Write(w)
}

func (s *Server) handleFetchRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.FetchRange(ctx, req.From.String(), req.To.String()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleFetchRecent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.FetchRecent(ctx); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tab string `json:"tab"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	v, err := ledger.ParseView(req.Tab)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.svc.SwitchView(v)
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	m, err := ledger.ParseSelectionMode(req.Mode)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.svc.SetMode(m)
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !s.decode(w, r, &req) {
		return
	}
	switch req.Action {
	case "toggle":
		k, err := ledger.ParseEntryKey(req.Key)
		if err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}
		s.svc.Toggle(k)
	case "all":
		s.svc.SelectAll()
	case "clear":
		s.svc.ClearSelection()
	default:
		BadRequestError(fmt.Sprintf("unknown selection action %q: must be toggle, all or clear", req.Action)).Write(w)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleDeleteSelected(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.DeleteSelected(ctx); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	k, err := ledger.ParseEntryKey(r.PathValue("key"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.DeleteEntry(ctx, k); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleProposeStatus(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !s.decode(w, r, &req) {
		return
	}
	st, err := core.ParseStatus(req.Status)
	if err != nil || strings.TrimSpace(req.Status) == "" {
		s.writeError(w, r, fmt.Errorf("%w: %q", core.ErrInvalidStatus, req.Status))
		return
	}
	if !s.svc.ProposeStatus(strings.TrimSpace(req.ID), st) {
		NotFoundError("No spending entry with that id is shown.").Write(w)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleDiscardPending(w http.ResponseWriter, r *http.Request) {
	s.svc.DiscardPending()
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleCommitStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.CommitStatusChanges(ctx); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	if err := s.svc.UpdateSelectedStatus(ctx, core.Status(strings.ToLower(strings.TrimSpace(req.Status)))); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeState(w, http.StatusOK)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r)
	defer cancel()
	months, err := s.svc.Months(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]string, 0, len(months))
	for _, m := range months {
		out = append(out, m.String())
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleMonthTotals(w http.ResponseWriter, r *http.Request) {
	p, err := core.ParseMonthYear(r.PathValue("monthYear"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r)
	defer cancel()
	t, err := s.svc.MonthTotals(ctx, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(newMonthlyDTO(t)).Write(w)
}

// context returns the context for backend work. It is detached from the
// client connection so a disconnect cannot leave a batch half applied, and
// bounded by the request timeout.
func (s *Server) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), s.requestTimeout)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Rejected request body",
			log.FieldPath, r.URL.Path, log.FieldError, err.Error())
		BadRequestError("Invalid request body.").Write(w)
		return false
	}
	return true
}

func (s *Server) writeState(w http.ResponseWriter, status int) {
	NewJSONResponse().Status(status).Body(newStateDTO(s.svc.View())).Write(w)
}

// writeError maps err to a status code and writes the banner message. 5xx
// responses are logged.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	body := ErrorBody{Error: services.UserMessage(err), ErrorType: services.ErrorType(err)}

	var ve *services.ValidationError
	if errors.As(err, &ve) && len(ve.Items) > 0 {
		body.Items = ve.Items
	}
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.NewFields().
				WithHTTPRequest(r.Method, r.URL.Path, "", "", "").
				WithErrorType(body.ErrorType).
				WithError(err).ToSlice()...)
	}
	if status == http.StatusInternalServerError {
		body.Error = "Internal server error."
	}
	NewJSONResponse().Status(status).Body(body).Write(w)
}
