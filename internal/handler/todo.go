package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/todo-sync/internal/model"
	"github.com/BuzzLyutic/todo-sync/internal/remote"
	"github.com/BuzzLyutic/todo-sync/internal/repo"
	"github.com/BuzzLyutic/todo-sync/internal/service"
	"github.com/BuzzLyutic/todo-sync/internal/worker"
	"github.com/BuzzLyutic/todo-sync/pkg/respond"
)

// Scheduler — фоновая синхронизация (worker.Pool).
type Scheduler interface {
	RunOnce() bool
	LastRun() worker.Run
}

type TodoHandler struct {
	service   *service.TodoService
	scheduler Scheduler
	logger    *zap.Logger
}

func NewTodoHandler(srv *service.TodoService, scheduler Scheduler, logger *zap.Logger) *TodoHandler {
	return &TodoHandler{
		service:   srv,
		scheduler: scheduler,
		logger:    logger,
	}
}

func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		respond.Error(w, r, http.StatusBadRequest, "empty request body")
		return
	}

	var req model.TodoItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode json", zap.Error(err))
		respond.Error(w, r, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	item, err := h.service.Add(r.Context(), req)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/todo/"+item.ID)
	respond.JSON(w, r, http.StatusCreated, item)
}

func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, item)
}

func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, items)
}

func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req model.TodoItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	req.ID = chi.URLParam(r, "id")

	item, err := h.service.Update(r.Context(), req)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, item)
}

func (h *TodoHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.ToggleDone(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, item)
}

func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync — синхронизация в рамках запроса, ответ после завершения.
func (h *TodoHandler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Synchronize(r.Context())
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, map[string]string{"result": string(result)})
}

// Schedule ставит разовую фоновую синхронизацию.
func (h *TodoHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	queued := h.scheduler.RunOnce()
	respond.JSON(w, r, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (h *TodoHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, struct {
		model.Stats
		LastSync worker.Run `json:"last_sync"`
	}{stats, h.scheduler.LastRun()})
}

func (h *TodoHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrorConflict):
		respond.Error(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, service.ErrValidation):
		respond.Error(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, remote.ErrUnsynchronized):
		respond.Error(w, r, http.StatusConflict, remote.Message(err))
	case errors.Is(err, remote.ErrUnauthorized),
		errors.Is(err, remote.ErrNotFound),
		errors.Is(err, remote.ErrServer),
		errors.Is(err, remote.ErrNetwork),
		errors.Is(err, remote.ErrUnexpected):
		h.logger.Warn("remote error", zap.Error(err))
		respond.Error(w, r, http.StatusBadGateway, remote.Message(err))
	default:
		h.logger.Error("internal error", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}
