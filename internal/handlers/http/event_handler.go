package http

import (
	"errors"
	"fmt"
	"net/http"

	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"
	"eventcast/internal/core/services"
	"eventcast/internal/infrastructure/middleware"
	apperrors "eventcast/pkg/errors"
	"eventcast/pkg/storage"
	"eventcast/pkg/validation"

	"github.com/gin-gonic/gin"
)

// EventHandler serves event status and recordings over HTTP.
type EventHandler struct {
	events     ports.EventRepository
	service    *services.DistributionService
	recordings *services.RecordingManager
	store      storage.Storage
	auth       services.AuthService
}

var _ ports.HTTPHandler = (*EventHandler)(nil)

func NewEventHandler(
	events ports.EventRepository,
	service *services.DistributionService,
	recordings *services.RecordingManager,
	store storage.Storage,
	auth services.AuthService,
) *EventHandler {
	return &EventHandler{
		events:     events,
		service:    service,
		recordings: recordings,
		store:      store,
		auth:       auth,
	}
}

// SetupRoutes mounts the /api/v1 routes on router.
func (h *EventHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	api.Use(middleware.IdentityMiddleware(h.auth))
	{
		api.GET("/events/:id/status", h.GetEventStatus)

		private := api.Group("", middleware.RequireAuth())
		private.GET("/events/:id/recordings", h.ListRecordings)
		private.GET("/recordings/:filename", h.DownloadRecording)
		private.DELETE("/recordings/:filename", h.DeleteRecording)
	}
}

func (h *EventHandler) GetEventStatus(c *gin.Context) {
	eventID, ok := h.eventParam(c)
	if !ok {
		return
	}

	if _, err := h.events.LookupEvent(c.Request.Context(), eventID, ""); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, h.service.Status(eventID))
}

func (h *EventHandler) ListRecordings(c *gin.Context) {
	eventID, ok := h.eventParam(c)
	if !ok {
		return
	}
	if !h.authorizeManager(c, eventID) {
		return
	}

	list, err := h.recordings.List(c.Request.Context(), eventID)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to list recordings").WithCause(err))
		return
	}
	if list == nil {
		list = []domain.RecordingMetadata{}
	}

	c.JSON(http.StatusOK, gin.H{
		"event_id":   eventID,
		"recordings": list,
	})
}

func (h *EventHandler) DownloadRecording(c *gin.Context) {
	filename, ok := h.recordingParam(c)
	if !ok {
		return
	}

	info, err := h.store.Stat(filename)
	if err != nil {
		c.Error(storageError(err))
		return
	}
	rc, err := h.store.Load(c.Request.Context(), filename)
	if err != nil {
		c.Error(storageError(err))
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, info.Size(), "audio/wav", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, filename),
	})
}

func (h *EventHandler) DeleteRecording(c *gin.Context) {
	filename, ok := h.recordingParam(c)
	if !ok {
		return
	}

	if err := h.recordings.Delete(c.Request.Context(), filename); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// recordingParam validates the filename and checks the caller manages its
// event.
func (h *EventHandler) recordingParam(c *gin.Context) (string, bool) {
	filename := c.Param("filename")
	if err := validation.ValidateRecordingFilename(filename); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}

	eventID, _, ok := services.ParseRecordingFilename(filename)
	if !ok {
		c.Error(apperrors.NewInvalidInputError("invalid recording filename"))
		return "", false
	}
	if !h.authorizeManager(c, eventID) {
		return "", false
	}
	return filename, true
}

func storageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError("recording")
	case errors.Is(err, storage.ErrInvalidName):
		return apperrors.NewInvalidInputError(err.Error())
	}
	return apperrors.NewInternalError("failed to open recording").WithCause(err)
}

func (h *EventHandler) eventParam(c *gin.Context) (domain.EventID, bool) {
	id := c.Param("id")
	if err := validation.ValidateEventID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.EventID(id), true
}

func (h *EventHandler) authorizeManager(c *gin.Context, eventID domain.EventID) bool {
	if !h.service.CanManage(c.Request.Context(), eventID, middleware.IdentityFrom(c)) {
		c.Error(apperrors.NewForbiddenError("organizer access required"))
		return false
	}
	return true
}
