// Package api exposes the scheduling engine over HTTP. Handlers translate
// requests and errors; no scheduling logic lives here.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"crm-reminders/internal/common/errors"
	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/common/validation"
	"crm-reminders/internal/models"

	"github.com/gin-gonic/gin"
)

const maxBodyBytes = 64 << 10

// ReminderService is implemented by *scheduler.Engine.
type ReminderService interface {
	Create(ctx context.Context, in models.NewReminder) (*models.Reminder, error)
	Get(ctx context.Context, id string) (*models.Reminder, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.Reminder, error)
	Reschedule(ctx context.Context, id string, changes models.ReminderChanges) (*models.Reminder, error)
	Cancel(ctx context.Context, id string) (*models.Reminder, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	service ReminderService
	errors  *errors.ErrorHandler
	log     logger.Logger
}

func NewHandler(service ReminderService, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"component": "api"})
	return &Handler{
		service: service,
		errors:  errors.NewErrorHandler(log),
		log:     log,
	}
}

// Create handles POST /reminders.
func (h *Handler) Create(c *gin.Context) {
	var req CreateReminderRequest
	if !h.bind(c, createReminderSchema, &req) {
		return
	}

	in, err := req.toModel()
	if err != nil {
		h.errors.Respond(c, errors.NewInvalidInputError("scheduledAt must be an RFC 3339 timestamp"))
		return
	}

	r, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.errors.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, ReminderResponse{Reminder: r})
}

// Get handles GET /reminders/:id.
func (h *Handler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ReminderResponse{Reminder: r})
}

// ListByCustomer handles GET /reminders/customer/:customerId.
func (h *Handler) ListByCustomer(c *gin.Context) {
	customerID := c.Param("customerId")

	list, err := h.service.ListByCustomer(c.Request.Context(), customerID)
	if err != nil {
		h.errors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, ReminderListResponse{
		CustomerID: customerID,
		Reminders:  list,
		Count:      len(list),
	})
}

// Update handles PUT /reminders/:id.
func (h *Handler) Update(c *gin.Context) {
	var req UpdateReminderRequest
	if !h.bind(c, updateReminderSchema, &req) {
		return
	}

	changes, err := req.toChanges()
	if err != nil {
		h.errors.Respond(c, errors.NewInvalidInputError("scheduledAt must be an RFC 3339 timestamp"))
		return
	}

	r, err := h.service.Reschedule(c.Request.Context(), c.Param("id"), changes)
	if err != nil {
		h.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ReminderResponse{Reminder: r})
}

// Delete handles DELETE /reminders/:id. By default the reminder is cancelled
// and kept; ?purge=true removes the record.
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")

	purge, _ := strconv.ParseBool(c.DefaultQuery("purge", "false"))
	if purge {
		if err := h.service.Delete(c.Request.Context(), id); err != nil {
			h.errors.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
		return
	}

	r, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		h.errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ReminderResponse{Reminder: r})
}

// bind validates the raw body against schema and decodes it into dst.
func (h *Handler) bind(c *gin.Context, schema *validation.Schema, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.errors.Respond(c, errors.NewInvalidInputError("could not read request body"))
		return false
	}

	if res := schema.Validate(body); !res.Valid {
		h.errors.Respond(c, errors.NewInvalidInputError(res.Summary()).
			WithMetadata("errors", res.Errors))
		return false
	}

	if err := json.Unmarshal(body, dst); err != nil {
		h.errors.Respond(c, errors.NewInvalidInputError(err.Error()))
		return false
	}
	return true
}
