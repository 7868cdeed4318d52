// groups.go implements group administration: create, list, fetch with members, add member.
package admin

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
)

// GroupHandlers handles group management endpoints
type GroupHandlers struct {
	cfg       *config.Config
	groupRepo *repositories.GroupRepository
	userRepo  *repositories.UserRepository
}

// NewGroupHandlers creates a new GroupHandlers instance
func NewGroupHandlers(cfg *config.Config, db *sqlx.DB) *GroupHandlers {
	return &GroupHandlers{
		cfg:       cfg,
		groupRepo: repositories.NewGroupRepository(db),
		userRepo:  repositories.NewUserRepository(db),
	}
}

// ListGroupsHandler lists groups ordered by name
// GET /api/v1/groups
func (h *GroupHandlers) ListGroupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, perPage, offset := pagination(c)

		groups, total, err := h.groupRepo.ListGroups(c.Request.Context(), perPage, offset)
		if err != nil {
			slog.Error("failed to list groups", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list groups"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"groups": groups,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetGroupHandler returns a group and its members
// GET /api/v1/groups/:id
func (h *GroupHandlers) GetGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupID := c.Param("id")
		group, err := h.groupRepo.GetGroupByID(c.Request.Context(), groupID)
		if err != nil {
			slog.Error("failed to get group", "group_id", groupID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve group"})
			return
		}
		if group == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}

		members, err := h.groupRepo.ListMembers(c.Request.Context(), groupID)
		if err != nil {
			slog.Error("failed to list group members", "group_id", groupID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve group members"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"group": group, "members": members})
	}
}

// CreateGroupRequest represents the request to create a group
type CreateGroupRequest struct {
	Name string `json:"name" binding:"required,max=150"`
}

// CreateGroupHandler creates a group
// POST /api/v1/groups
func (h *GroupHandlers) CreateGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		group := &models.Group{Name: req.Name}
		if err := h.groupRepo.Create(c.Request.Context(), group); err != nil {
			if isUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "Group already exists"})
				return
			}
			slog.Error("failed to create group", "name", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create group"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"group": group})
	}
}

// AddMemberRequest names the user to add to a group
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// AddMemberHandler adds a user to a group
// POST /api/v1/groups/:id/members
func (h *GroupHandlers) AddMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AddMemberRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		groupID := c.Param("id")

		group, err := h.groupRepo.GetGroupByID(ctx, groupID)
		if err != nil {
			slog.Error("failed to get group", "group_id", groupID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve group"})
			return
		}
		if group == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}

		exists, err := h.userRepo.Exists(ctx, req.UserID)
		if err != nil {
			slog.Error("failed to check user", "user_id", req.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
			return
		}
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}

		if err := h.groupRepo.AddMember(ctx, groupID, req.UserID); err != nil {
			slog.Error("failed to add group member", "group_id", groupID, "user_id", req.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add member"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"group_id": groupID, "user_id": req.UserID})
	}
}
