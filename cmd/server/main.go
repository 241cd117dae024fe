package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/liamcoop/subledger/engine"
	"github.com/liamcoop/subledger/internal/config"
	"github.com/liamcoop/subledger/internal/logger"
	"github.com/liamcoop/subledger/report"
)

type Server struct {
	db           *sql.DB
	ruleStore    engine.RuleStore
	orchestrator *engine.Orchestrator
	router       *chi.Mux
}

func NewServer(db *sql.DB, rules engine.RuleStore, records engine.RecordStore, cfg *config.Config) *Server {
	s := &Server{
		db:           db,
		ruleStore:    rules,
		orchestrator: engine.NewOrchestrator(rules, records, cfg.Workers, cfg.QueryTimeout),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/runs", s.handleRun)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Post("/", s.handleCreateRule)
		r.Get("/", s.handleListRules)
		r.Get("/{ruleId}", s.handleGetRule)
		r.Put("/{ruleId}", s.handleUpdateRule)
		r.Delete("/{ruleId}", s.handleDeleteRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Run handler: executes every active rule and returns the merged entries
// plus the per-rule processing log.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Run(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "run failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := report.WriteJSON(w, run); err != nil {
		logger.Error("failed to write run response", "error", err)
	}
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" || req.SourceTable == "" || req.Formula == "" || req.LedgerAccount == "" {
		respondError(w, http.StatusBadRequest, "name, sourceTable, formula and ledgerAccount are required", nil)
		return
	}

	now := time.Now()
	rule := &engine.Rule{
		ID:            uuid.New().String(),
		Name:          req.Name,
		SourceTable:   req.SourceTable,
		Filter:        req.Filter,
		Formula:       req.Formula,
		LedgerAccount: req.LedgerAccount,
		Active:        req.Active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Reject rules the planner would refuse at run time.
	if _, err := engine.Plan(rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule definition", err)
		return
	}

	if err := s.ruleStore.Add(rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, ruleResponse(rule))
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.ruleStore.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	resp := RulesListResponse{Rules: make([]RuleResponse, 0, len(active))}
	for _, rule := range active {
		resp.Rules = append(resp.Rules, ruleResponse(rule))
	}

	respondJSON(w, http.StatusOK, resp)
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	rule, err := s.ruleStore.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, ruleResponse(rule))
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	existing, err := s.ruleStore.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	rule := *existing
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.SourceTable != "" {
		rule.SourceTable = req.SourceTable
	}
	if req.Filter != "" {
		rule.Filter = req.Filter
	}
	if req.Formula != "" {
		rule.Formula = req.Formula
	}
	if req.LedgerAccount != "" {
		rule.LedgerAccount = req.LedgerAccount
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if _, err := engine.Plan(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule definition", err)
		return
	}

	if err := s.ruleStore.Update(&rule); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, ruleResponse(&rule))
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	if err := s.ruleStore.Delete(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", "error", err)
	}

	server := NewServer(db, engine.NewPostgresRuleStore(db), engine.NewPostgresRecordStore(db), cfg)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
