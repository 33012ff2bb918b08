package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"dealflow/attention"
	"dealflow/auth"
	"dealflow/condition"
	"dealflow/deal"
	"dealflow/task"
	"dealflow/timeline"
)

// Service interfaces are declared where consumed so handler tests can stub
// them without a database.

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

type stageService interface {
	Get(ctx context.Context, dealID string) (deal.LegalState, error)
	Advance(ctx context.Context, dealID string, target deal.Stage, actorID string) (deal.LegalState, []string, error)
	MarkDead(ctx context.Context, dealID, reason, actorID string) (deal.LegalState, error)
	Rollback(ctx context.Context, dealID, reason, actorID string) (deal.LegalState, error)
	UpdateMetadata(ctx context.Context, dealID, kind string, raw json.RawMessage, actorID string) (deal.LegalState, error)
}

type conditionRegistry interface {
	Open(ctx context.Context, params condition.OpenParams) (condition.Condition, error)
	Resolve(ctx context.Context, conditionID, actorID string) (condition.Condition, error)
	ListBlockers(ctx context.Context, dealID string) (condition.BlockerReport, error)
	ListIssues(ctx context.Context, dealID string) (open, resolved []condition.Condition, err error)
}

type eventLister interface {
	List(ctx context.Context, dealID string, limit int) ([]timeline.Event, error)
}

type attentionEngine interface {
	DealSignals(ctx context.Context, dealID string) ([]attention.Signal, error)
	Feed(ctx context.Context) ([]attention.FeedSignal, error)
}

type taskService interface {
	Create(ctx context.Context, params task.CreateParams) (task.Task, error)
	Edit(ctx context.Context, userID, taskID string, params task.EditParams) (task.Task, error)
	List(ctx context.Context, userID string) ([]task.Task, error)
}

type Server struct {
	authService      authService
	stageService     stageService
	conditionService conditionRegistry
	eventService     eventLister
	attentionEngine  attentionEngine
	taskService      taskService
}

func NewServer(auths authService, stages stageService, conditions conditionRegistry, events eventLister, engine attentionEngine, tasks taskService) *Server {
	return &Server{
		authService:      auths,
		stageService:     stages,
		conditionService: conditions,
		eventService:     events,
		attentionEngine:  engine,
		taskService:      tasks,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/me", s.requireUser(s.handleMe))
	mux.HandleFunc("/api/deals/needs-attention", s.requireUser(s.handleNeedsAttention))
	mux.HandleFunc("/api/deals/", s.requireUser(s.handleDeal))
	mux.HandleFunc("/api/issues/", s.requireUser(s.handleIssue))
	mux.HandleFunc("/api/tasks", s.requireUser(s.handleTasks))
	mux.HandleFunc("/api/tasks/attention", s.requireUser(s.handleTaskAttention))
	mux.HandleFunc("/api/tasks/", s.requireUser(s.handleTask))
	return mux
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, _, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. A blocked
// transition carries its blocker list so the UI can render exactly why.
func writeDomainError(w http.ResponseWriter, err error) {
	var blocked *deal.BlockedTransitionError
	switch {
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "transition blocked by open issues",
			"blockers": blocked.Blockers,
		})
	case errors.Is(err, deal.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deal.ErrTerminalStage), errors.Is(err, deal.ErrStaleState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deal.ErrDealNotFound),
		errors.Is(err, condition.ErrDealNotFound),
		errors.Is(err, condition.ErrConditionNotFound),
		errors.Is(err, attention.ErrDealNotFound),
		errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
