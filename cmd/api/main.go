package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/app"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/assist"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/backup"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/config"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/notify"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/search"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/session"
	"github.com/duyanh12kara-ops/quanly-dichvucong/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// Redis backs both the change feed and refresh sessions; without it the
	// feed degrades to single-instance local fan-out and sessions are off.
	var redisClient *redis.Client
	var sessionStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		sessionStore = session.NewRedisStoreWithClient(redisClient)
	} else {
		log.Printf("WARNING: no redis configured, running single-instance without refresh sessions")
	}
	feed := notify.New(redisClient)
	defer feed.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgLike(dataStore))

	assistClient := assist.New(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel)
	if !assistClient.Configured() {
		log.Printf("WARNING: no Gemini API key, assistant features run in fallback mode")
	}

	archive, err := backup.NewArchive(cfg.BackupsDir)
	if err != nil {
		log.Fatalf("backup archive init failed: %v", err)
	}
	var uploader *backup.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		uploader, err = backup.NewUploader(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: object store unavailable, backups stay local only: %v", err)
			uploader = nil
		}
	}
	backupService := backup.NewService(archive, uploader)

	service, err := newService(cfg, dataStore, sessionStore, feed, searchService, assistClient, backupService)
	if err != nil {
		log.Fatalf("service init failed: %v", err)
	}
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: the event stream stays open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("DVC API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newService keeps the nil-interface plumbing out of main's happy path: a
// nil *session.RedisStore must become a nil interface, not a typed nil.
func newService(cfg config.Config, dataStore *store.PostgresStore, sessionStore *session.RedisStore, feed *notify.Feed, searchService *search.Service, assistClient *assist.Client, backups *backup.Service) (*app.Service, error) {
	if sessionStore == nil {
		return app.NewService(cfg, dataStore, nil, feed, searchService, assistClient, backups)
	}
	return app.NewService(cfg, dataStore, sessionStore, feed, searchService, assistClient, backups)
}
