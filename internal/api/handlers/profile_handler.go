package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/services"
)

type ProfileHandler struct {
	svc services.ProfileService
}

func NewProfileHandler(svc services.ProfileService) *ProfileHandler {
	return &ProfileHandler{svc: svc}
}

type ProfileResponse struct {
	*models.MemberProfile
	PatreonLinked bool `json:"patreon_linked"`
}

func toProfileResponse(p *models.MemberProfile) ProfileResponse {
	return ProfileResponse{MemberProfile: p, PatreonLinked: p.Linked() || p.PatreonUserID != nil}
}

// Me returns the caller's profile, creating it on first access.
func (h *ProfileHandler) Me(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	p, err := h.svc.GetOrCreate(c.Request.Context(), userID, c.GetString("email"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toProfileResponse(p))
}
