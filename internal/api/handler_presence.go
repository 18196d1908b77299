package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/mw"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/visibility"
)

type presenceRequest struct {
	Status        *string         `json:"status"`
	Location      *model.GeoPoint `json:"location"`
	ClearLocation bool            `json:"clearLocation"`
	BreweryID     *string         `json:"breweryId"`
	Visibility    *string         `json:"visibility"`
}

// UpdatePresence merges the request into the caller's presence record.
func (h *Handler) UpdatePresence(c *gin.Context) {
	var req presenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	u := presence.Update{
		Location:      req.Location,
		ClearLocation: req.ClearLocation,
		BreweryID:     req.BreweryID,
	}
	if req.Status != nil {
		s := model.PresenceStatus(strings.ToLower(*req.Status))
		u.Status = &s
	}
	if req.Visibility != nil {
		t, err := visibility.ParseTier(*req.Visibility)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		u.Visibility = &t
	}

	rec, err := h.presence.Upsert(c.Request.Context(), mw.UserID(c), u)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.View())
}

// Heartbeat keeps the caller's presence from expiring.
func (h *Handler) Heartbeat(c *gin.Context) {
	rec, err := h.presence.Heartbeat(c.Request.Context(), mw.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.View())
}

// GetMyPresence returns the caller's own record.
func (h *Handler) GetMyPresence(c *gin.Context) {
	rec, err := h.presence.Get(c.Request.Context(), mw.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec.View())
}

// GetFriendsPresence lists the visible presence of the caller's friends.
func (h *Handler) GetFriendsPresence(c *gin.Context) {
	views, err := h.roster.Friends(c.Request.Context(), mw.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": views})
}

// GetBreweryPresence returns the brewery roster as the caller may see it.
func (h *Handler) GetBreweryPresence(c *gin.Context) {
	breweryID := c.Param("id")
	views, err := h.roster.ForViewer(c.Request.Context(), mw.UserID(c), breweryID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"breweryId": breweryID, "users": views})
}
