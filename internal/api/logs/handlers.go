// Package logs implements the object log views and the record endpoint. Each view calls one
// objectlog.Service method and hands the result to either the HTML adapter or the JSON
// adapter; the admin gate is applied by the router in front of the handler.
package logs

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/middleware"
	"github.com/object-log/object-log/internal/objectlog"
)

// Handlers serves the object log views.
type Handlers struct {
	svc *objectlog.Service
}

// NewHandlers creates Handlers over svc.
func NewHandlers(svc *objectlog.Service) *Handlers {
	return &Handlers{svc: svc}
}

// RefFunc extracts the subject whose log a request asks for.
type RefFunc func(c *gin.Context) (models.SubjectRef, error)

// ObjectLogHandler lists the entries of the subject returned by refFunc. It performs no access
// check; host applications mount it behind their own authorization.
func (h *Handlers) ObjectLogHandler(refFunc RefFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, err := refFunc(c)
		if err != nil {
			respondError(c, err)
			return
		}
		opts, err := parseListOptions(c)
		if err != nil {
			respondError(c, err)
			return
		}
		page, err := h.svc.ListForObject(c.Request.Context(), ref, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		renderPage(c, view{Title: "Object log for " + ref.Key()}, page)
	}
}

// PathRef reads the subject from the :type_tag and :id path parameters.
func PathRef(c *gin.Context) (models.SubjectRef, error) {
	return models.SubjectRef{TypeTag: c.Param("type_tag"), RecordID: c.Param("id")}, nil
}

// @Summary      User object log
// @Description  Entries recorded against a user. Superusers only.
// @Tags         ObjectLog
// @Security     Bearer
// @Produce      json,html
// @Param        id        path   string  true   "User ID"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Param        action    query  string  false  "Only entries with this action"
// @Success      200  {object}  objectlog.Page
// @Failure      403  {object}  map[string]interface{}  "Not a superuser"
// @Failure      404  {object}  map[string]interface{}  "No such user"
// @Router       /api/v1/users/{id}/object_log [get]
// UserObjectLogHandler lists entries whose subject is the user.
// GET /user/:id/object_log/
func (h *Handlers) UserObjectLogHandler() gin.HandlerFunc {
	return h.list("Object log for user", h.svc.ListForUser)
}

// GroupObjectLogHandler lists entries whose subject is the group.
// GET /group/:id/object_log/
func (h *Handlers) GroupObjectLogHandler() gin.HandlerFunc {
	return h.list("Object log for group", h.svc.ListForGroup)
}

// UserActionsHandler lists entries the user performed.
// GET /user/:id/actions/
func (h *Handlers) UserActionsHandler() gin.HandlerFunc {
	return h.list("Actions by user", h.svc.ListUserActions)
}

type listFunc func(ctx context.Context, id string, opts objectlog.ListOptions) (*objectlog.Page, error)

func (h *Handlers) list(title string, fetch listFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		opts, err := parseListOptions(c)
		if err != nil {
			respondError(c, err)
			return
		}
		page, err := fetch(c.Request.Context(), id, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		renderPage(c, view{Title: title + " " + id}, page)
	}
}

// ResolveHandler looks up the locator of a subject. Page requests are redirected to it; API
// requests receive it as JSON.
// GET /object/:type_tag/:id/
// GET /api/v1/objects/:type_tag/:id
func (h *Handlers) ResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		typeTag, id := c.Param("type_tag"), c.Param("id")
		locator, err := h.svc.Resolve(c.Request.Context(), typeTag, id)
		if err != nil {
			respondError(c, err)
			return
		}
		if middleware.WantsJSON(c) {
			c.JSON(http.StatusOK, gin.H{
				"type_tag":  typeTag,
				"record_id": id,
				"locator":   locator,
			})
			return
		}
		c.Redirect(http.StatusFound, locator)
	}
}

// SubjectInput is one subject of a RecordRequest.
type SubjectInput struct {
	TypeTag  string `json:"type_tag" binding:"required,max=100"`
	RecordID string `json:"record_id" binding:"required,max=255"`
}

// RecordRequest is the body of POST /api/v1/log.
type RecordRequest struct {
	Action      string         `json:"action" binding:"required,max=128"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data"`
	Subjects    []SubjectInput `json:"subjects" binding:"max=3,dive"`
}

// @Summary      Record an entry
// @Description  Records an action performed by the authenticated caller. Requires log:write scope.
// @Tags         ObjectLog
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  RecordRequest  true  "Entry"
// @Success      201  {object}  models.LogEntry
// @Failure      400  {object}  map[string]interface{}  "Invalid entry"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/log [post]
// RecordHandler records an entry with the caller as actor.
func (h *Handlers) RecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		user := middleware.CurrentUser(c)
		if user == nil {
			middleware.AbortWithError(c, http.StatusUnauthorized, middleware.MsgUnauthorized)
			return
		}

		refs := make([]models.SubjectRef, 0, len(req.Subjects))
		for _, s := range req.Subjects {
			refs = append(refs, models.SubjectRef{TypeTag: s.TypeTag, RecordID: s.RecordID})
		}

		entry, err := h.svc.Record(c.Request.Context(), objectlog.RecordInput{
			Actor:       user.Summary(),
			Action:      strings.TrimSpace(req.Action),
			Description: req.Description,
			Data:        req.Data,
			Subjects:    refs,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, entry)
	}
}

// GetEntryHandler returns a single entry.
// GET /api/v1/log/:id
func (h *Handlers) GetEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, err := h.svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"entry":   entry,
			"message": entry.Message(),
		})
	}
}
