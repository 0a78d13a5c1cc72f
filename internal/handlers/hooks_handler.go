package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"webhook_queue/internal/models"
	"webhook_queue/internal/repository"
	"webhook_queue/internal/service"

	"github.com/go-chi/chi/v5"
)

// HooksService is the part of the service layer the admin API calls.
type HooksService interface {
	CreateQueue(ctx context.Context, req *models.CreateQueueRequest) (*models.Queue, error)
	GetQueue(ctx context.Context, id int64) (*models.Queue, error)
	ListQueues(ctx context.Context, limit, offset int) ([]*models.Queue, error)

	Enqueue(ctx context.Context, queueID int64, req *models.EnqueueRequest) (*models.Message, error)
	EnqueueBatch(ctx context.Context, queueID int64, reqs []models.EnqueueRequest) ([]*models.Message, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, queueID int64, status string, limit, offset int) ([]*models.Message, error)

	CreateCron(ctx context.Context, req *models.CreateCronRequest) (*models.Cron, error)
	GetCron(ctx context.Context, id int64) (*models.Cron, error)
	ListCrons(ctx context.Context) ([]*models.Cron, error)
}

type HooksHandler struct {
	service HooksService
}

func NewHooksHandler(service HooksService) *HooksHandler {
	return &HooksHandler{service: service}
}

// POST /api/queues
// 201: queue
// 400: invalid input, 404: dead letter queue not found
func (h *HooksHandler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	var req models.CreateQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	q, err := h.service.CreateQueue(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// GET /api/queues?limit=&offset=
func (h *HooksHandler) ListQueues(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	items, err := h.service.ListQueues(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ListResponse[*models.Queue]{Items: items, Limit: limit, Offset: offset})
}

// GET /api/queues/{id}
func (h *HooksHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	q, err := h.service.GetQueue(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// POST /api/queues/{id}/messages
// 201: message
func (h *HooksHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req models.EnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	m, err := h.service.Enqueue(r.Context(), queueID, &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// POST /api/queues/{id}/messages/batch
// 201: { "items": [message, ...] }
func (h *HooksHandler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req models.EnqueueBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	msgs, err := h.service.EnqueueBatch(r.Context(), queueID, req.Messages)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": msgs})
}

// GET /api/queues/{id}/messages?status=&limit=&offset=
func (h *HooksHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	queueID, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))

	items, err := h.service.ListMessages(r.Context(), queueID, status, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ListResponse[*models.Message]{Items: items, Limit: limit, Offset: offset})
}

// GET /api/messages/{id}
func (h *HooksHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := h.service.GetMessage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// POST /api/crons
// 201: cron
// 400: "Invalid cron expression" or invalid input, 404: queue not found
func (h *HooksHandler) CreateCron(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCronRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	c, err := h.service.CreateCron(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /api/crons
func (h *HooksHandler) ListCrons(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListCrons(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GET /api/crons/{id}
func (h *HooksHandler) GetCron(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.service.GetCron(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCron):
		writeError(w, http.StatusBadRequest, service.ErrInvalidCron.Error())
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrDeadLetterCycle):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrQueueNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(v, 1000)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = v
	}
	return limit, offset, true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
