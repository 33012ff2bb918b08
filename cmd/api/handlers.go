package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"dealflow/attention"
	"dealflow/auth"
	"dealflow/condition"
	"dealflow/deal"
	"dealflow/task"
)

type legalStateResponse struct {
	DealID             string                  `json:"dealId"`
	LegalStage         string                  `json:"legalStage"`
	ContractMetadata   deal.ContractMetadata   `json:"contractMetadata"`
	AssignmentMetadata deal.AssignmentMetadata `json:"assignmentMetadata"`
	TitleMetadata      deal.TitleMetadata      `json:"titleMetadata"`
	UpdatedAt          string                  `json:"updatedAt"`
	Warnings           []string                `json:"warnings,omitempty"`
}

func toLegalStateResponse(state deal.LegalState, warnings []string) legalStateResponse {
	return legalStateResponse{
		DealID:             state.DealID,
		LegalStage:         string(state.Stage),
		ContractMetadata:   state.Contract,
		AssignmentMetadata: state.Assignment,
		TitleMetadata:      state.Title,
		UpdatedAt:          state.UpdatedAt.Format(time.RFC3339),
		Warnings:           warnings,
	}
}

type eventResponse struct {
	ID        int64          `json:"id"`
	DealID    string         `json:"dealId"`
	EventType string         `json:"eventType"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"createdAt"`
}

type conditionResponse struct {
	ID           string  `json:"id"`
	DealID       string  `json:"dealId"`
	Category     string  `json:"category"`
	Severity     string  `json:"severity"`
	Status       string  `json:"status"`
	Summary      string  `json:"summary"`
	Details      *string `json:"details,omitempty"`
	Source       *string `json:"source,omitempty"`
	DiscoveredAt string  `json:"discoveredAt"`
	ResolvedAt   *string `json:"resolvedAt,omitempty"`
}

func toConditionResponse(c condition.Condition) conditionResponse {
	resp := conditionResponse{
		ID:           c.ID,
		DealID:       c.DealID,
		Category:     string(c.Category),
		Severity:     string(c.Severity),
		Status:       string(c.Status),
		Summary:      c.Summary,
		Details:      c.Details,
		Source:       c.Source,
		DiscoveredAt: c.DiscoveredAt.Format(time.RFC3339),
	}
	if c.ResolvedAt != nil {
		s := c.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &s
	}
	return resp
}

func toConditionResponses(conds []condition.Condition) []conditionResponse {
	out := make([]conditionResponse, 0, len(conds))
	for _, c := range conds {
		out = append(out, toConditionResponse(c))
	}
	return out
}

type taskResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Status    string  `json:"status"`
	Urgency   string  `json:"urgency"`
	DueAt     *string `json:"dueAt,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func toTaskResponse(t task.Task) taskResponse {
	resp := taskResponse{
		ID:        t.ID,
		Title:     t.Title,
		Status:    string(t.Status),
		Urgency:   string(t.Urgency),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
	if t.DueAt != nil {
		s := t.DueAt.Format(time.RFC3339)
		resp.DueAt = &s
	}
	return resp
}

func toTaskResponses(tasks []task.Task) []taskResponse {
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"fullName": user.FullName,
		"role":     string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":       result.User.ID,
			"email":    result.User.Email,
			"fullName": result.User.FullName,
			"role":     string(result.User.Role),
		},
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"email":    user.Email,
		"fullName": user.FullName,
		"role":     string(user.Role),
	})
}

// handleDeal routes /api/deals/{id}/legal and its sub-resources.
func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request, userID string) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/deals/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] != "legal" {
		writeError(w, http.StatusBadRequest, "invalid deal path")
		return
	}
	dealID := parts[0]

	if len(parts) == 2 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		state, err := s.stageService.Get(r.Context(), dealID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toLegalStateResponse(state, nil))
		return
	}
	if len(parts) != 3 {
		writeError(w, http.StatusBadRequest, "invalid deal path")
		return
	}

	switch parts[2] {
	case "stage":
		s.handleStageAdvance(w, r, dealID, userID)
	case "dead":
		s.handleMarkDead(w, r, dealID, userID)
	case "rollback":
		s.handleRollback(w, r, dealID, userID)
	case "metadata":
		s.handleMetadata(w, r, dealID, userID)
	case "blockers":
		s.handleBlockers(w, r, dealID)
	case "events":
		s.handleEvents(w, r, dealID)
	case "issues":
		s.handleIssues(w, r, dealID, userID)
	case "signals":
		s.handleDealSignals(w, r, dealID)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleStageAdvance(w http.ResponseWriter, r *http.Request, dealID, userID string) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Stage string `json:"stage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	target, err := deal.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, warnings, err := s.stageService.Advance(r.Context(), dealID, target, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLegalStateResponse(state, warnings))
}

func (s *Server) handleMarkDead(w http.ResponseWriter, r *http.Request, dealID, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	state, err := s.stageService.MarkDead(r.Context(), dealID, req.Reason, userID)
	if err != nil {
		if errors.Is(err, deal.ErrDealNotFound) || errors.Is(err, deal.ErrTerminalStage) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLegalStateResponse(state, nil))
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request, dealID, userID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	state, err := s.stageService.Rollback(r.Context(), dealID, req.Reason, userID)
	if err != nil {
		if errors.Is(err, deal.ErrDealNotFound) || errors.Is(err, deal.ErrTerminalStage) || errors.Is(err, deal.ErrInvalidTransition) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLegalStateResponse(state, nil))
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, dealID, userID string) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Kind     string          `json:"kind"`
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	state, err := s.stageService.UpdateMetadata(r.Context(), dealID, req.Kind, req.Metadata, userID)
	if err != nil {
		if errors.Is(err, deal.ErrDealNotFound) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLegalStateResponse(state, nil))
}

func (s *Server) handleBlockers(w http.ResponseWriter, r *http.Request, dealID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.conditionService.ListBlockers(r.Context(), dealID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blockers":     report.Blockers,
		"warnings":     report.Warnings,
		"currentStage": report.CurrentStage,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, dealID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events, err := s.eventService.List(r.Context(), dealID, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:        ev.ID,
			DealID:    ev.DealID,
			EventType: ev.Type,
			Metadata:  ev.Payload,
			CreatedAt: ev.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request, dealID, userID string) {
	switch r.Method {
	case http.MethodGet:
		open, resolved, err := s.conditionService.ListIssues(r.Context(), dealID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"openIssues":     toConditionResponses(open),
			"resolvedIssues": toConditionResponses(resolved),
		})
	case http.MethodPost:
		var req struct {
			Category string  `json:"category"`
			Severity string  `json:"severity"`
			Summary  string  `json:"summary"`
			Details  *string `json:"details"`
			Source   *string `json:"source"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		cond, err := s.conditionService.Open(r.Context(), condition.OpenParams{
			DealID:   dealID,
			Category: condition.Category(req.Category),
			Severity: condition.Severity(req.Severity),
			Summary:  req.Summary,
			Details:  req.Details,
			Source:   req.Source,
			ActorID:  userID,
		})
		if err != nil {
			if errors.Is(err, condition.ErrDealNotFound) {
				writeDomainError(w, err)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toConditionResponse(cond))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleDealSignals(w http.ResponseWriter, r *http.Request, dealID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	signals, err := s.attentionEngine.DealSignals(r.Context(), dealID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(signals))
	for _, sig := range signals {
		out = append(out, map[string]any{
			"message":  sig.Message,
			"severity": string(sig.Severity),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signals": out,
		"overall": string(attention.OverallSeverity(signals)),
	})
}

// handleIssue routes /api/issues/{id}/resolve.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request, userID string) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/issues/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "resolve" {
		writeError(w, http.StatusBadRequest, "invalid issue path")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cond, err := s.conditionService.Resolve(r.Context(), parts[0], userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConditionResponse(cond))
}

func (s *Server) handleNeedsAttention(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	feed, err := s.attentionEngine.Feed(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(feed))
	for _, sig := range feed {
		out = append(out, map[string]any{
			"dealId":     sig.DealID,
			"signalType": sig.SignalType,
			"message":    sig.Message,
			"severity":   string(sig.Severity),
			"detectedAt": sig.DetectedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": out})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.taskService.List(r.Context(), userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": toTaskResponses(tasks)})
	case http.MethodPost:
		var req struct {
			Title   string `json:"title"`
			Urgency string `json:"urgency"`
			DueAt   string `json:"dueAt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		created, err := s.taskService.Create(r.Context(), task.CreateParams{
			UserID:  userID,
			Title:   req.Title,
			Urgency: req.Urgency,
			DueAt:   req.DueAt,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toTaskResponse(created))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request, userID string) {
	taskID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/")
	if taskID == "" || strings.Contains(taskID, "/") {
		writeError(w, http.StatusBadRequest, "invalid task path")
		return
	}
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Title   *string `json:"title"`
		Status  *string `json:"status"`
		Urgency *string `json:"urgency"`
		DueAt   *string `json:"dueAt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	updated, err := s.taskService.Edit(r.Context(), userID, taskID, task.EditParams{
		Title:   req.Title,
		Status:  req.Status,
		Urgency: req.Urgency,
		DueAt:   req.DueAt,
	})
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeDomainError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(updated))
}

func (s *Server) handleTaskAttention(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tasks, err := s.taskService.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	buckets := attention.PartitionTasks(tasks, time.Now())
	writeJSON(w, http.StatusOK, map[string]any{
		"missed":         toTaskResponses(buckets.Missed),
		"triage":         toTaskResponses(buckets.Triage),
		"attentionCount": buckets.AttentionCount(),
		"alert":          buckets.Alert,
	})
}
