package api

import (
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/checkin"
	"brewery-presence-backend/internal/mw"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/realtime"
	"brewery-presence-backend/internal/roster"
	"brewery-presence-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	presence *presence.Service
	ledger   *checkin.Ledger
	roster   *roster.Roster
	ws       *realtime.Server
	webpush  *webpush.Options
}

// NewHandler creates a new API handler. ws and webpushOptions may be nil.
func NewHandler(s store.Store, p *presence.Service, l *checkin.Ledger, r *roster.Roster, ws *realtime.Server, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:    s,
		presence: p,
		ledger:   l,
		roster:   r,
		ws:       ws,
		webpush:  webpushOptions,
	}
}

// respondError writes {"error", "kind"} with the status of the error's kind.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(apperr.HTTPStatus(kind), gin.H{"error": apperr.Message(err), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": apperr.KindValidation})
}

// Health reports whether the database answers.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServeWS upgrades an authenticated request to the realtime channel.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.ws == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime channel is disabled"})
		return
	}
	h.ws.ServeWS(c.Writer, c.Request, mw.UserID(c))
}
