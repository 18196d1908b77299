package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"brewery-presence-backend/internal/checkin"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/mw"
	"brewery-presence-backend/internal/visibility"
)

type createCheckInRequest struct {
	BreweryID string `json:"breweryId" binding:"required"`
	Privacy   string `json:"privacy"`
	Comment   string `json:"comment"`
	PhotoRef  string `json:"photoRef"`
	RouteID   string `json:"routeId"`
}

// CreateCheckIn opens a check-in for the caller.
func (h *Handler) CreateCheckIn(c *gin.Context) {
	var req createCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "breweryId is required")
		return
	}

	cr := checkin.CreateRequest{
		BreweryID: req.BreweryID,
		Comment:   req.Comment,
		PhotoRef:  req.PhotoRef,
		RouteID:   req.RouteID,
	}
	if req.Privacy != "" {
		t, err := visibility.ParseTier(req.Privacy)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		cr.Privacy = t
	}

	created, err := h.ledger.Create(c.Request.Context(), mw.UserID(c), cr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// CheckoutCheckIn completes one of the caller's active check-ins.
func (h *Handler) CheckoutCheckIn(c *gin.Context) {
	done, err := h.ledger.Checkout(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, done)
}

// CancelCheckIn abandons one of the caller's active check-ins.
func (h *Handler) CancelCheckIn(c *gin.Context) {
	cancelled, err := h.ledger.Cancel(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelled)
}

// GetCheckIn returns one of the caller's check-ins.
func (h *Handler) GetCheckIn(c *gin.Context) {
	ci, err := h.ledger.Get(c.Request.Context(), mw.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ci)
}

// ListCheckIns returns check-in history, newest first. Without userId or
// breweryId it lists the caller's own. Rows the caller may not see are left out.
func (h *Handler) ListCheckIns(c *gin.Context) {
	viewer := mw.UserID(c)
	f := checkin.Filter{
		UserID:    c.Query("userId"),
		BreweryID: c.Query("breweryId"),
		Status:    model.CheckInStatus(c.Query("status")),
	}
	if f.UserID == "" && f.BreweryID == "" {
		f.UserID = viewer
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}

	list, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	list, err = h.roster.CheckIns(c.Request.Context(), viewer, list)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []model.CheckIn{}
	}
	c.JSON(http.StatusOK, gin.H{"checkins": list})
}
