// actions.go implements the registry of action keys and their display templates.
package admin

import (
	"log/slog"
	"net/http"
	"text/template"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
)

// ActionHandlers handles action registry endpoints
type ActionHandlers struct {
	cfg        *config.Config
	actionRepo *repositories.ActionRepository
}

// NewActionHandlers creates a new ActionHandlers instance
func NewActionHandlers(cfg *config.Config, db *sqlx.DB) *ActionHandlers {
	return &ActionHandlers{
		cfg:        cfg,
		actionRepo: repositories.NewActionRepository(db),
	}
}

// ListActionsHandler lists registered actions
// GET /api/v1/actions
func (h *ActionHandlers) ListActionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actions, err := h.actionRepo.List(c.Request.Context())
		if err != nil {
			slog.Error("failed to list actions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list actions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

// RegisterActionRequest registers an action key. Template is a text/template rendered with
// .Entry, .Actor, .Data and .Subjects.
type RegisterActionRequest struct {
	Name     string `json:"name" binding:"required,max=128"`
	Template string `json:"template"`
}

// @Summary      Register action
// @Description  Create an action key or replace its display template. Superusers only.
// @Tags         Actions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  RegisterActionRequest  true  "Action"
// @Success      200  {object}  models.LogAction
// @Failure      400  {object}  map[string]interface{}  "Invalid request or template"
// @Router       /api/v1/actions [post]
// RegisterActionHandler creates or updates an action
// POST /api/v1/actions
func (h *ActionHandlers) RegisterActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterActionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
		if _, err := template.New(req.Name).Parse(req.Template); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid template: " + err.Error()})
			return
		}

		action := &models.LogAction{Name: req.Name, Template: req.Template}
		if err := h.actionRepo.Register(c.Request.Context(), action); err != nil {
			slog.Error("failed to register action", "name", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register action"})
			return
		}

		c.JSON(http.StatusOK, action)
	}
}
