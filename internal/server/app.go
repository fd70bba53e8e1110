// Package server wires the configuration, storage backends, services and the
// gRPC shell together and runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/pengine/pengine/internal/access"
	"github.com/pengine/pengine/internal/cryptox"
	"github.com/pengine/pengine/internal/logging"
	"github.com/pengine/pengine/internal/server/blobstore"
	"github.com/pengine/pengine/internal/server/config"
	"github.com/pengine/pengine/internal/server/repositories/repomanager"
	"github.com/pengine/pengine/internal/server/services"

	gs "github.com/pengine/pengine/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	redis  *redis.Client

	Credentials *services.CredentialRegistry
	Sessions    *services.SessionService
	Content     *services.ContentService
	Audit       *services.AuditService
}

// NewApp opens the database, applies the schema and builds the services.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	var sets *redis.Client
	if c.RedisAddr != "" {
		sets = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := sets.Ping(ctx).Err(); err != nil {
			app.Close()
			sets.Close()
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
		app.redis = sets
		logger.Info(ctx, "group memberships served from redis", "addr", c.RedisAddr)
	}

	var rm *repomanager.PostgresRepositoryManager
	if sets != nil {
		rm = repomanager.NewPostgresRepositoryManager(sets)
	} else {
		rm = repomanager.NewPostgresRepositoryManager(nil)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.Settings{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("blob store error: %w", err)
	}

	hasher := cryptox.NewPasswordHasher()
	engine := access.NewEngine(rm.Groups(db))

	app.Audit = services.NewAuditService(db, rm, logger)
	app.Credentials = services.NewCredentialRegistry(db, rm, hasher, cryptox.NewTOTP(), app.Audit, logger)
	app.Sessions = services.NewSessionService(db, rm, app.Credentials, app.Audit, c, logger)
	app.Content = services.NewContentService(db, rm, engine, cryptox.NewContentCipher(), hasher, blobs, logger)

	return app, nil
}

// Close releases the database pool and the Redis client.
func (app *App) Close() {
	if app.redis != nil {
		app.redis.Close()
	}
	if app.db != nil {
		app.db.Close()
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.Sessions)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until SIGINT, SIGTERM or SIGQUIT, or until ctx is done.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()
}
