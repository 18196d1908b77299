package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"brewery-presence-backend/config"
	"brewery-presence-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", handler.Health)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	auth := mw.JWTAuth(cfg.Auth.JWTSecret, cfg.Auth.UserClaim)

	// The VAPID key only changes on redeploy.
	caching := mw.Cache(cache.New(10*time.Minute, 20*time.Minute), 10*time.Minute)

	api := r.Group("/api")
	api.Use(rateLimiter, auth)
	{
		api.POST("/presence", handler.UpdatePresence)
		api.POST("/presence/heartbeat", handler.Heartbeat)
		api.GET("/presence/me", handler.GetMyPresence)
		api.GET("/presence/friends", handler.GetFriendsPresence)
		api.GET("/breweries/:id/presence", handler.GetBreweryPresence)

		api.POST("/checkins", handler.CreateCheckIn)
		api.GET("/checkins", handler.ListCheckIns)
		api.GET("/checkins/:id", handler.GetCheckIn)
		api.POST("/checkins/:id/checkout", handler.CheckoutCheckIn)
		api.POST("/checkins/:id/cancel", handler.CancelCheckIn)

		api.GET("/push/subscriptions", handler.GetSubscription)
		api.PUT("/push/subscriptions", handler.PutSubscription)
		api.DELETE("/push/subscriptions", handler.DeleteSubscription)
		api.GET("/push/vapid_public_key", caching, handler.GetVAPIDPublicKey)

		api.GET("/ws", handler.ServeWS)
	}

	return r
}
