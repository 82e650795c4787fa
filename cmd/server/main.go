// Command server runs the wellness-sync HTTP API.
//
// @title          Wellness Sync API
// @version        1.0
// @description    Prediction synchronization backend for the student wellness app.
// @BasePath       /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/wellness-sync/internal/config"
	"github.com/tbourn/wellness-sync/internal/fieldmap"
	"github.com/tbourn/wellness-sync/internal/gateway"
	"github.com/tbourn/wellness-sync/internal/geo"
	httpapi "github.com/tbourn/wellness-sync/internal/http"
	"github.com/tbourn/wellness-sync/internal/observability"
	"github.com/tbourn/wellness-sync/internal/repo"
	"github.com/tbourn/wellness-sync/internal/services"
	"github.com/tbourn/wellness-sync/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = time.Hour
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.OTEL.ServiceName, cfg.LogPretty)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, observability.StoreBackend(cfg.Store.Backend))
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// The local database always exists: it holds idempotency records, and
	// the documents themselves for the sqlite backend.
	db, err := repo.OpenSQLite(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	var store services.DocumentStore
	switch cfg.Store.Backend {
	case "firestore":
		fs, err := repo.NewFirestoreStore(ctx, cfg.Store.ProjectID)
		if err != nil {
			return err
		}
		defer fs.Close()
		store = fs
	default:
		store = repo.NewDocumentStore(db)
	}

	gw := gateway.New(gateway.EndpointsFromConfig(cfg.Gateway), cfg.Gateway.Timeout)
	for _, k := range gateway.Kinds {
		if !gw.Enabled(k) {
			log.Warn().Str("kind", string(k)).Msg("inference endpoint not configured")
		}
	}

	syncSvc := services.NewSyncService(store, gw)
	syncSvc.Regions = fieldmap.NewRegionTable(cfg.RegionAliases)
	if cfg.GeocoderURL != "" {
		syncSvc.Geo = geo.NewNominatim(cfg.GeocoderURL, cfg.Gateway.Timeout)
	}
	history := services.NewHistoryService(store)
	history.DefaultN = cfg.HistoryDefaultN

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Sync:               syncSvc,
		History:            history,
		Views:              services.NewHomeService(syncSvc),
		Inference:          gw,
		LocalDB:            db,
		DocumentsInLocalDB: cfg.Store.Backend == "sqlite",
	}, cfg)

	go purgeIdempotency(ctx, db)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.Store.Backend).
			Str("version", version).
			Msg("server starting")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		log.Info().Msg("server stopped gracefully")
	}
	return nil
}

// purgeIdempotency deletes expired idempotency records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("idempotency records purged")
			}
		}
	}
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("closing database")
	}
}
