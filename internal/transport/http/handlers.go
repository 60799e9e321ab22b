// Package http implements the thin chi-based request surface over the
// orchestration core: item/plan/agent/approval CRUD, the same shape
// CodeForge's internal/adapter/http exposes over its own services.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/deriver"
	"github.com/fleetforge/orchestrator/internal/orch/eventlog"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/orcherr"
	"github.com/fleetforge/orchestrator/internal/orch/reviewreceive"
	"github.com/fleetforge/orchestrator/internal/orch/worker"
)

// maxBodyBytes bounds request bodies the same way CodeForge's
// adapter/http.readJSON does.
const maxBodyBytes = 1 << 20

// Handlers holds every core component the request surface calls into.
// It is a thin adapter: every handler method does request parsing,
// one call into internal/orch/*, and response encoding, nothing more.
type Handlers struct {
	Layout        layout.Layout
	Bus           *bus.Bus
	Items         *item.Manager
	Agents        *agentmgr.Manager
	Worker        *worker.Controller
	ReviewReceive *reviewreceive.Controller
}

// ---- items ----

type createItemRequest struct {
	Name         string                  `json:"name"`
	Description  string                  `json:"description"`
	DesignDoc    string                  `json:"designDoc"`
	Repositories []orch.RepositoryConfig `json:"repositories"`
}

func (h *Handlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createItemRequest](w, r)
	if !ok {
		return
	}
	it, err := h.Items.CreateItem(r.Context(), item.CreateItemRequest{
		Name:         req.Name,
		Description:  req.Description,
		DesignDoc:    req.DesignDoc,
		Repositories: req.Repositories,
	})
	if err != nil {
		writeOrchError(w, err)
		return
	}
	go func() {
		if err := h.Items.SetupWorkspace(context.Background(), it.ID); err != nil {
			slog.Error("workspace setup failed", "item_id", it.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusCreated, it)
}

func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Items.ListItems()
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type itemView struct {
	orch.Item
	Status deriver.ItemStatus `json:"status"`
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	it, err := h.Items.LoadItem(itemID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	status, err := h.deriveStatus(itemID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemView{Item: it, Status: status})
}

type updateItemRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	DesignDoc   *string `json:"designDoc"`
}

func (h *Handlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	req, ok := readJSON[updateItemRequest](w, r)
	if !ok {
		return
	}
	it, err := h.Items.UpdateItem(itemID, item.UpdateItemRequest{
		Name:        req.Name,
		Description: req.Description,
		DesignDoc:   req.DesignDoc,
	})
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if err := h.Items.Delete(r.Context(), itemID); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RetrySetup(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if err := h.Items.RetrySetup(r.Context(), itemID); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) CreatePRs(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	it, err := h.Items.LoadItem(itemID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	if err := h.Worker.Finalize(r.Context(), itemID, it); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type startReviewReceiveRequest struct {
	Repository *string `json:"repository"`
}

func (h *Handlers) StartReviewReceive(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	req, ok := readJSON[startReviewReceiveRequest](w, r)
	if !ok {
		return
	}
	agent, err := h.ReviewReceive.StartReviewReceive(r.Context(), itemID, req.Repository)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, agent)
}

// ---- plan ----

func (h *Handlers) GetPlanContent(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	data, err := os.ReadFile(h.Layout.PlanPath(itemID))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no plan for this item")
			return
		}
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	data, err := os.ReadFile(h.Layout.PlanPath(itemID))
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "no plan for this item")
			return
		}
		writeInternalError(w, err)
		return
	}
	var plan orch.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *Handlers) UpdatePlanContent(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var plan orch.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan YAML: "+err.Error())
		return
	}
	it, err := h.Items.LoadItem(itemID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	if err := orch.ValidatePlan(plan, it); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := os.WriteFile(h.Layout.PlanPath(itemID), data, 0o644); err != nil {
		writeInternalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- agents ----

func (h *Handlers) ListAgentsByItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	events, err := h.readItemEvents(itemID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentsFromEvents(events))
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentId")
	events, err := h.readAgentEvents(itemID, agentID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	status := deriver.DeriveAgentStatus(events)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     agentID,
		"itemId": itemID,
		"status": status,
	})
}

type startAgentRequest struct {
	Role       string  `json:"role"`
	Repository *string `json:"repository"`
	Prompt     string  `json:"prompt"`
}

func (h *Handlers) StartAgent(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	req, ok := readJSON[startAgentRequest](w, r)
	if !ok {
		return
	}
	workdir := h.Layout.WorkspaceRoot(itemID)
	if req.Repository != nil && *req.Repository != "" {
		workdir = h.Layout.RepoWorkspace(itemID, *req.Repository)
	}
	agent, err := h.Agents.Start(r.Context(), itemID, req.Role, req.Repository, workdir, req.Prompt)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) StopAgent(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	agentID := chi.URLParam(r, "agentId")
	if err := h.Agents.Stop(itemID, agentID); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendInputRequest struct {
	Data string `json:"data"`
}

func (h *Handlers) SendAgentInput(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	req, ok := readJSON[sendInputRequest](w, r)
	if !ok {
		return
	}
	if err := h.Agents.SendInput(agentID, []byte(req.Data)); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetAgentOutputBuffer(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(h.Agents.OutputBuffer(agentID))
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (h *Handlers) ResizeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	req, ok := readJSON[resizeRequest](w, r)
	if !ok {
		return
	}
	if err := h.Agents.Resize(agentID, req.Cols, req.Rows); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- approvals ----

func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	events, err := h.readItemEvents(itemID)
	if err != nil {
		writeOrchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deriver.PendingApprovals(events))
}

type decideApprovalRequest struct {
	EventID  string `json:"eventId"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	req, ok := readJSON[decideApprovalRequest](w, r)
	if !ok {
		return
	}
	if err := h.decide(itemID, req.EventID, req.Approved, req.Reason); err != nil {
		writeOrchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchDecideRequest struct {
	Decisions []decideApprovalRequest `json:"decisions"`
}

func (h *Handlers) BatchDecideApprovals(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	req, ok := readJSON[batchDecideRequest](w, r)
	if !ok {
		return
	}
	for _, d := range req.Decisions {
		if err := h.decide(itemID, d.EventID, d.Approved, d.Reason); err != nil {
			writeOrchError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) decide(itemID, eventID string, approved bool, reason string) error {
	events, err := h.readItemEvents(itemID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.ID != eventID || ev.Type != orch.EventApprovalRequested {
			continue
		}
		var p orch.ApprovalRequestedPayload
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		return h.Agents.Decide(itemID, ev.AgentID, p.RequestID, approved, reason)
	}
	return orcherr.Wrap(orcherr.KindValidation, "http.decide", "no pending approval_requested event %q", eventID)
}

// ---- helpers ----

func (h *Handlers) deriveStatus(itemID string) (deriver.ItemStatus, error) {
	events, err := h.readItemEvents(itemID)
	if err != nil {
		return "", err
	}
	return deriver.DeriveItemStatus(events), nil
}

func (h *Handlers) readItemEvents(itemID string) ([]orch.Event, error) {
	log := eventlog.Open(h.Layout.ItemEventLogPath(itemID))
	events, err := log.Read()
	if err != nil {
		return nil, fmt.Errorf("read item log: %w", err)
	}
	return events, nil
}

func (h *Handlers) readAgentEvents(itemID, agentID string) ([]orch.Event, error) {
	log := eventlog.Open(h.Layout.AgentEventLogPath(itemID, agentID))
	events, err := log.Read()
	if err != nil {
		return nil, fmt.Errorf("read agent log: %w", err)
	}
	return events, nil
}

func agentsFromEvents(events []orch.Event) []map[string]any {
	byAgent := make(map[string][]orch.Event)
	order := make([]string, 0)
	for _, ev := range events {
		if ev.AgentID == "" {
			continue
		}
		if _, ok := byAgent[ev.AgentID]; !ok {
			order = append(order, ev.AgentID)
		}
		byAgent[ev.AgentID] = append(byAgent[ev.AgentID], ev)
	}
	out := make([]map[string]any, 0, len(order))
	for _, agentID := range order {
		out = append(out, map[string]any{
			"id":     agentID,
			"status": deriver.DeriveAgentStatus(byAgent[agentID]),
		})
	}
	return out
}

// readJSON decodes a JSON request body, following CodeForge's
// adapter/http.readJSON shape (size-limited, single error response).
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// writeOrchError maps an error to its HTTP status: anything wrapping
// os.ErrNotExist is 404 (checked first), KindValidation is 400,
// KindSecurityRefusal is 403, and everything else is 500.
func writeOrchError(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if orcherr.Is4xx(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if kind, ok := orcherr.KindOf(err); ok {
		status := http.StatusInternalServerError
		if kind == orcherr.KindSecurityRefusal {
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}
	writeInternalError(w, err)
}
