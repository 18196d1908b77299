package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"brewery-presence-backend/config"
	"brewery-presence-backend/internal/notification"
	"brewery-presence-backend/internal/presence"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	fx.New(
		fx.Provide(loadConfig),
		persistenceModule,
		domainModule,
		realtimeModule,
		httpModule,
		fx.Invoke(startBackground, startServer),
	).Run()
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret (or JWT_SECRET) must be set")
	}
	log.Printf("configuration loaded successfully from %s", configPath)
	return cfg, nil
}

// startBackground runs the presence reaper and, when push is enabled, the
// notification workers for the lifetime of the app.
func startBackground(lc fx.Lifecycle, cfg *config.Config, reaper *presence.Reaper, workers *notification.WorkerPool) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go reaper.Run(ctx)
			if cfg.Push.Enabled {
				workers.Start(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, cfg *config.Config, router *gin.Engine) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Printf("HTTP server starting on port %d", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("HTTP server ListenAndServe: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Println("Shutdown signal received, stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}
