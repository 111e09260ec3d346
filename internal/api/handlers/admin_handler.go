package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/services"
	"github.com/mylifebyai/mlbai/internal/utils"
)

type AdminHandler struct {
	profiles services.ProfileService
	sync     services.PatreonSyncService
}

func NewAdminHandler(profiles services.ProfileService, sync services.PatreonSyncService) *AdminHandler {
	return &AdminHandler{profiles: profiles, sync: sync}
}

type ListUsersResponse struct {
	Users  []ProfileResponse `json:"users"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	limit, offset := queryInt(c, "limit", 50), queryInt(c, "offset", 0)

	ps, total, err := h.profiles.List(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	users := make([]ProfileResponse, 0, len(ps))
	for i := range ps {
		users = append(users, toProfileResponse(&ps[i]))
	}
	c.JSON(http.StatusOK, ListUsersResponse{Users: users, Total: total, Limit: limit, Offset: offset})
}

type SetRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h *AdminHandler) SetRole(c *gin.Context) {
	const op = "AdminHandler.SetRole"

	actorID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SetRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	role, valid := models.ParseRole(req.Role)
	if !valid {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "role must be admin, tester or regular", nil))
		return
	}

	p, err := h.profiles.SetRole(c.Request.Context(), actorID, c.Param("user_id"), role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(p))
}

func (h *AdminHandler) RoleChanges(c *gin.Context) {
	changes, err := h.profiles.RoleChanges(c.Request.Context(), c.Param("user_id"), queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, err)
		return
	}
	if changes == nil {
		changes = []models.RoleChange{}
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *AdminHandler) SyncRuns(c *gin.Context) {
	runs, err := h.sync.RecentRuns(c.Request.Context(), int64(queryInt(c, "limit", 20)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
