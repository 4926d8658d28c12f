package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/workorder-orchestrator/internal/domain"
	"github.com/hochfrequenz/workorder-orchestrator/internal/orderstore"
)

// CreateOrderRequest is the POST body for a new work order
type CreateOrderRequest struct {
	RepositoryID     string   `json:"repository_id"`
	UserRequest      string   `json:"user_request"`
	GitHubIssue      int      `json:"github_issue,omitempty"`
	SelectedCommands []string `json:"selected_commands,omitempty"`
	SandboxType      string   `json:"sandbox_type,omitempty"`
}

// OrderResponse is the API representation of a work order
type OrderResponse struct {
	ID               string   `json:"id"`
	RepositoryID     string   `json:"repository_id"`
	UserRequest      string   `json:"user_request"`
	GitHubIssue      int      `json:"github_issue,omitempty"`
	SelectedCommands []string `json:"selected_commands"`
	SandboxType      string   `json:"sandbox_type"`
	Status           string   `json:"status"`
	CurrentPhase     string   `json:"current_phase,omitempty"`
	GitBranchName    string   `json:"git_branch_name,omitempty"`
	PullRequestURL   string   `json:"pull_request_url,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
	CompletedAt      *string  `json:"completed_at,omitempty"`
}

// StepResultResponse is the API representation of one step execution
type StepResultResponse struct {
	Step            string  `json:"step"`
	AgentName       string  `json:"agent_name"`
	Success         bool    `json:"success"`
	Output          string  `json:"output,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	SessionID       string  `json:"session_id"`
	Timestamp       string  `json:"timestamp"`
}

// StatusResponse is the API response for overall orchestrator state
type StatusResponse struct {
	Total           int `json:"total"`
	Todo            int `json:"todo"`
	InProgress      int `json:"in_progress"`
	Review          int `json:"review"`
	Done            int `json:"done"`
	ActiveSlots     int `json:"active_slots"`
	ActiveSandboxes int `json:"active_sandboxes"`
}

// StatusUpdateRequest is the POST body for a status change
type StatusUpdateRequest struct {
	Status string `json:"status"`
}

func orderToResponse(o *domain.WorkOrder) OrderResponse {
	commands := make([]string, len(o.SelectedCommands))
	for i, c := range o.SelectedCommands {
		commands[i] = string(c)
	}

	resp := OrderResponse{
		ID:               o.ID,
		RepositoryID:     o.RepositoryID,
		UserRequest:      o.UserRequest,
		GitHubIssue:      o.GitHubIssue,
		SelectedCommands: commands,
		SandboxType:      string(o.SandboxType),
		Status:           string(o.Status),
		GitBranchName:    o.GitBranchName,
		PullRequestURL:   o.PullRequestURL,
		ErrorMessage:     o.ErrorMessage,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        o.UpdatedAt.Format(time.RFC3339),
	}
	if o.CurrentPhase != nil {
		resp.CurrentPhase = string(*o.CurrentPhase)
	}
	if o.CompletedAt != nil {
		t := o.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	return resp
}

func stepToResponse(r *domain.StepResult) StepResultResponse {
	return StepResultResponse{
		Step:            string(r.Step),
		AgentName:       r.AgentName,
		Success:         r.Success,
		Output:          r.Output,
		ErrorMessage:    r.ErrorMessage,
		DurationSeconds: r.DurationSeconds,
		SessionID:       r.SessionID,
		Timestamp:       r.Timestamp.Format(time.RFC3339),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		orders, err := s.store.ListOrders(orderstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(orders)
		for _, o := range orders {
			switch o.Status {
			case domain.StatusTodo:
				status.Todo++
			case domain.StatusInProgress:
				status.InProgress++
			case domain.StatusReview:
				status.Review++
			case domain.StatusDone:
				status.Done++
			}
		}
		if s.dispatcher != nil {
			status.ActiveSlots = s.dispatcher.ActiveSlots()
		}
		if s.sandboxes != nil {
			status.ActiveSandboxes = len(s.sandboxes.Active())
		}

		writeJSON(w, http.StatusOK, status)
	}
}

// collectionHandler serves /api/workorders
func (s *Server) collectionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listOrders(w, r)
		case http.MethodPost:
			s.createOrder(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// itemHandler serves /api/workorders/{id} and its subresources
func (s *Server) itemHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/workorders/")
		id, sub, _ := strings.Cut(rest, "/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "work order ID required")
			return
		}

		switch {
		case sub == "" && r.Method == http.MethodGet:
			s.getOrder(w, id)
		case sub == "" && r.Method == http.MethodDelete:
			s.deleteOrder(w, id)
		case sub == "status" && r.Method == http.MethodPost:
			s.updateStatus(w, r, id)
		case sub == "steps" && r.Method == http.MethodGet:
			s.listSteps(w, id)
		case sub == "stream" && r.Method == http.MethodGet:
			s.streamOrder(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order := &domain.WorkOrder{
		ID:           uuid.NewString(),
		RepositoryID: req.RepositoryID,
		UserRequest:  req.UserRequest,
		GitHubIssue:  req.GitHubIssue,
		SandboxType:  domain.SandboxType(req.SandboxType),
	}
	if req.SandboxType == "" {
		order.SandboxType = domain.SandboxGitBranch
	}
	if len(req.SelectedCommands) == 0 {
		order.SelectedCommands = domain.DefaultCommands()
	} else {
		for _, c := range req.SelectedCommands {
			order.SelectedCommands = append(order.SelectedCommands, domain.WorkflowStep(c))
		}
	}

	if err := s.store.CreateOrder(order); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.dispatcher.Submit(order.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, orderToResponse(order))
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	opts := orderstore.ListOptions{
		RepositoryID: r.URL.Query().Get("repository"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		opts.Status = &status
	}

	orders, err := s.store.ListOrders(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]OrderResponse, len(orders))
	for i, o := range orders {
		responses[i] = orderToResponse(o)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) getOrder(w http.ResponseWriter, id string) {
	order, err := s.store.GetOrder(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(order))
}

// updateStatus handles the review gate: the only externally drivable
// transition is review back to in_progress
func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if domain.Status(req.Status) != domain.StatusInProgress {
		writeError(w, http.StatusBadRequest, "only in_progress can be requested")
		return
	}

	if _, err := s.store.GetOrder(id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.dispatcher.Resume(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resuming"})
}

func (s *Server) deleteOrder(w http.ResponseWriter, id string) {
	if _, err := s.store.GetOrder(id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.dispatcher.Cancel(id)
	if err := s.store.DeleteOrder(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) listSteps(w http.ResponseWriter, id string) {
	if _, err := s.store.GetOrder(id); err != nil {
		writeStoreError(w, err)
		return
	}
	history, err := s.store.StepHistory(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]StepResultResponse, len(history))
	for i, h := range history {
		responses[i] = stepToResponse(h)
	}
	writeJSON(w, http.StatusOK, responses)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orderstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orderstore.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
