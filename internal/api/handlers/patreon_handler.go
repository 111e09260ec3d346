package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mylifebyai/mlbai/internal/api/middleware"
	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/services"
	"github.com/mylifebyai/mlbai/internal/utils"
)

type PatreonHandler struct {
	link       services.PatreonLinkService
	sync       services.PatreonSyncService
	appBaseURL string
}

// NewPatreonHandler builds the Patreon endpoints. appBaseURL prefixes callback
// redirects; empty keeps them relative.
func NewPatreonHandler(link services.PatreonLinkService, sync services.PatreonSyncService, appBaseURL string) *PatreonHandler {
	return &PatreonHandler{link: link, sync: sync, appBaseURL: appBaseURL}
}

type StartLinkRequest struct {
	RedirectTo string `json:"redirectTo"`
}

type StartLinkResponse struct {
	URL string `json:"url"`
}

func (h *PatreonHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req StartLinkRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "PatreonHandler.Start", "invalid request body", err))
		return
	}
	if req.RedirectTo == "" {
		req.RedirectTo = c.Query("redirect")
	}

	url, err := h.link.Start(c.Request.Context(), userID, req.RedirectTo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, StartLinkResponse{URL: url})
}

// Callback always answers with a redirect; outcomes travel in the query string.
func (h *PatreonHandler) Callback(c *gin.Context) {
	out := h.link.Callback(c.Request.Context(), services.CallbackInput{
		Code:          c.Query("code"),
		State:         c.Query("state"),
		ProviderError: c.Query("error"),
	})
	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, out.RedirectURL(h.appBaseURL))
}

type UnlinkResponse struct {
	Success bool        `json:"success"`
	Role    models.Role `json:"role"`
}

func (h *PatreonHandler) Unlink(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	role, err := h.link.Unlink(c.Request.Context(), userID, c.GetString("email"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, UnlinkResponse{Success: true, Role: role})
}

// SyncRequest is only honoured for admins; everyone else syncs themselves.
type SyncRequest struct {
	All     bool     `json:"all"`
	UserIDs []string `json:"userIds"`
}

type SyncResponse struct {
	OK        bool                `json:"ok"`
	Mode      string              `json:"mode"`
	Processed int                 `json:"processed"`
	Results   []models.SyncResult `json:"results"`
	RunID     string              `json:"runId"`
}

func (h *PatreonHandler) Sync(c *gin.Context) {
	const op = "PatreonHandler.Sync"
	ctx := c.Request.Context()

	if c.GetBool(middleware.CronAuthorized) {
		h.writeReport(c)(h.sync.SyncBatch(ctx, services.BatchRequest{Trigger: services.TriggerCron}))
		return
	}

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SyncRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	isAdmin := c.GetString("role") == string(models.RoleAdmin)
	if isAdmin && (req.All || len(req.UserIDs) > 0) {
		batch := services.BatchRequest{Trigger: services.TriggerAdmin}
		if !req.All {
			batch.UserIDs = req.UserIDs
		}
		h.writeReport(c)(h.sync.SyncBatch(ctx, batch))
		return
	}
	if !isAdmin && (req.All || len(req.UserIDs) > 0) {
		writeError(c, utils.E(utils.CodeForbidden, op, "only admins can resync other users", nil))
		return
	}

	h.writeReport(c)(h.sync.SyncUser(ctx, userID))
}

func (h *PatreonHandler) writeReport(c *gin.Context) func(*services.SyncReport, error) {
	return func(r *services.SyncReport, err error) {
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, SyncResponse{
			OK:        true,
			Mode:      r.Mode,
			Processed: r.Processed,
			Results:   r.Results,
			RunID:     r.RunID,
		})
	}
}
