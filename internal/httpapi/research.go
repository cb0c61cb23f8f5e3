package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/opencrew/deepresearch/internal/config"
	"github.com/opencrew/deepresearch/internal/metrics"
	"github.com/opencrew/deepresearch/internal/session"
	"github.com/opencrew/deepresearch/internal/streaming"
	"github.com/opencrew/deepresearch/internal/workflows"
)

// ResearchHandler exposes the research run lifecycle over HTTP: start a run,
// deliver the plan review decision, poll events and fetch the result. Runs
// are addressed by (user_id, conversation_id) through the thread store so
// clients never juggle workflow IDs.
type ResearchHandler struct {
	temporal  client.Client
	sessions  *session.Manager
	stream    *streaming.Manager
	config    func() *config.ResearchConfig
	logger    *zap.Logger
	taskQueue string
	authToken string
}

// NewResearchHandler builds the handler. cfg supplies the live configuration
// used to fill settings a start request leaves unset; pass nil to fall back
// to the compiled defaults.
func NewResearchHandler(t client.Client, sessions *session.Manager, stream *streaming.Manager, cfg func() *config.ResearchConfig, logger *zap.Logger, taskQueue, authToken string) *ResearchHandler {
	if cfg == nil {
		cfg = config.Default
	}
	return &ResearchHandler{
		temporal:  t,
		sessions:  sessions,
		stream:    stream,
		config:    cfg,
		logger:    logger,
		taskQueue: taskQueue,
		authToken: authToken,
	}
}

// RegisterRoutes registers the research endpoints on the provided mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/research", h.handleStart)
	mux.HandleFunc("/api/research/feedback", h.handleFeedback)
	mux.HandleFunc("/api/research/result", h.handleResult)
	mux.HandleFunc("/api/research/events", h.handleEvents)
}

func (h *ResearchHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.authToken {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

type startRequest struct {
	UserID         string                     `json:"user_id"`
	ConversationID string                     `json:"conversation_id"`
	Topic          string                     `json:"topic"`
	Document       string                     `json:"document,omitempty"`
	Settings       workflows.ResearchSettings `json:"settings,omitempty"`
}

type startResponse struct {
	ThreadID   string `json:"thread_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

func (h *ResearchHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	var req startRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ConversationID == "" || strings.TrimSpace(req.Topic) == "" {
		http.Error(w, `{"error":"user_id, conversation_id and topic are required"}`, http.StatusBadRequest)
		return
	}

	// Requests only carry overrides; everything left unset comes from the
	// current server configuration, so hot reloads apply to new runs.
	settings := req.Settings.WithConfig(h.config())

	ctx := r.Context()
	thread, err := h.sessions.GetOrCreateThread(ctx, req.UserID, req.ConversationID,
		settings.SearchBackend, settings.Planner.Provider)
	if err != nil {
		h.logger.Error("Thread lookup failed", zap.Error(err))
		http.Error(w, `{"error":"thread store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	if thread.HasActiveRun() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error":       "a research run is already active on this conversation",
			"workflow_id": thread.WorkflowID,
		})
		return
	}

	workflowID := "research-" + uuid.New().String()
	run, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.ResearchReportWorkflow, workflows.ReportInput{
		Topic:    req.Topic,
		UserID:   req.UserID,
		ThreadID: thread.ID,
		Document: req.Document,
		Settings: settings,
	})
	if err != nil {
		h.logger.Error("Failed to start research workflow", zap.Error(err))
		http.Error(w, `{"error":"failed to start research"}`, http.StatusInternalServerError)
		return
	}
	if err := h.sessions.AttachRun(ctx, thread, run.GetID(), run.GetRunID()); err != nil {
		h.logger.Warn("Failed to attach run to thread",
			zap.String("workflow_id", run.GetID()), zap.Error(err))
	}
	metrics.RunsStarted.Inc()

	h.logger.Info("Research run started",
		zap.String("workflow_id", run.GetID()),
		zap.String("thread_id", thread.ID),
		zap.String("topic", req.Topic))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(startResponse{
		ThreadID:   thread.ID,
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
	})
}

type feedbackRequest struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Approved       bool   `json:"approved"`
	Feedback       string `json:"feedback,omitempty"`
}

func (h *ResearchHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	var req feedbackRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ConversationID == "" {
		http.Error(w, `{"error":"user_id and conversation_id are required"}`, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	thread, err := h.sessions.GetThread(ctx, req.UserID, req.ConversationID)
	if err != nil {
		if errors.Is(err, session.ErrThreadNotFound) {
			http.Error(w, `{"error":"no research thread for this conversation"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"thread store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	if !thread.HasActiveRun() {
		http.Error(w, `{"error":"no active research run on this conversation"}`, http.StatusConflict)
		return
	}

	err = h.temporal.SignalWorkflow(ctx, thread.WorkflowID, thread.RunID,
		workflows.SignalPlanFeedback, workflows.PlanFeedbackSignal{
			Approved: req.Approved,
			Feedback: req.Feedback,
		})
	if err != nil {
		h.logger.Error("Failed to signal workflow",
			zap.String("workflow_id", thread.WorkflowID), zap.Error(err))
		http.Error(w, `{"error":"failed to deliver feedback"}`, http.StatusInternalServerError)
		return
	}
	decision := "rejected"
	if req.Feedback != "" {
		decision = "revised"
	} else if req.Approved {
		decision = "approved"
	}
	metrics.ApprovalDecisions.WithLabelValues(decision).Inc()
	metrics.ThreadsResumed.Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "delivered", "decision": decision})
}

type resultResponse struct {
	Status string                  `json:"status"` // running|completed|failed
	Result *workflows.ReportResult `json:"result,omitempty"`
}

func (h *ResearchHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}

	ctx := r.Context()
	thread, err := h.sessions.GetThread(ctx, r.URL.Query().Get("user_id"), r.URL.Query().Get("conversation_id"))
	if err != nil {
		if errors.Is(err, session.ErrThreadNotFound) {
			http.Error(w, `{"error":"no research thread for this conversation"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"thread store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	if thread.WorkflowID == "" {
		http.Error(w, `{"error":"no research run on this conversation"}`, http.StatusNotFound)
		return
	}

	desc, err := h.temporal.DescribeWorkflowExecution(ctx, thread.WorkflowID, thread.RunID)
	if err != nil {
		http.Error(w, `{"error":"failed to look up run"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if desc.GetWorkflowExecutionInfo().GetStatus() == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		json.NewEncoder(w).Encode(resultResponse{Status: "running"})
		return
	}

	var result workflows.ReportResult
	if err := h.temporal.GetWorkflow(ctx, thread.WorkflowID, thread.RunID).Get(ctx, &result); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
		return
	}
	if err := h.sessions.DetachRun(ctx, thread); err != nil {
		h.logger.Warn("Failed to detach finished run", zap.Error(err))
	}
	json.NewEncoder(w).Encode(resultResponse{Status: result.Status, Result: &result})
}

func (h *ResearchHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(w, r) {
		return
	}
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, `{"error":"run_id is required"}`, http.StatusBadRequest)
		return
	}
	afterSeq := uint64(0)
	if s := r.URL.Query().Get("after_seq"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"after_seq must be an integer"}`, http.StatusBadRequest)
			return
		}
		afterSeq = v
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.stream.Replay(runID, afterSeq))
}
