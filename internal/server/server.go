package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/melokeo/graphmem/internal/queue"
	mid "github.com/melokeo/graphmem/internal/server/middleware"
	"github.com/melokeo/graphmem/internal/util"
	"github.com/melokeo/graphmem/pkg/detect"
	"github.com/melokeo/graphmem/pkg/graphmem"
	"github.com/melokeo/graphmem/pkg/logger"
	graphstorage "github.com/melokeo/graphmem/pkg/store/pgx"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	// JWT auth is optional; without AUTH_URL the API runs open (dev) or on
	// the master key alone.
	var key *keyfunc.Keyfunc
	if authURL := util.GetEnvString("AUTH_URL", ""); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		key = &k
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The database may still be coming up alongside the service.
	databaseURL := util.GetEnv("DATABASE_URL")
	err := util.RetryErr(5, func() error {
		if merr := graphstorage.Migrate(databaseURL); merr != nil {
			logger.Warn("Migrations not applied yet, retrying", "err", merr)
			time.Sleep(2 * time.Second)
			return merr
		}
		return nil
	})
	if err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	graphStore := graphstorage.NewGraphDBStorage(conn)

	// The broker is optional too: without it turns are logged but never
	// reinforced.
	var publisher graphmem.Publisher
	if util.GetEnvString("RABBITMQ_HOST", "") != "" {
		que := queue.Init()
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		if err := queue.SetupQueues(ch, []string{queue.ReinforceQueue}); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		publisher = queue.NewReinforcePublisher(ch)
	} else {
		logger.Warn("RABBITMQ_HOST not set, reinforcement disabled")
	}

	// NER_TIMEOUT_MS 0 keeps the client default.
	nerClient := detect.NewNERClient(detect.NERClientParams{
		Endpoint: util.GetEnv("NER_ENDPOINT"),
		APIKey:   util.GetEnv("NER_API_KEY"),
		Timeout:  time.Duration(util.GetEnvNumeric("NER_TIMEOUT_MS", 0)) * time.Millisecond,
	})
	detector := detect.New(detect.Params{NER: nerClient})

	memory := graphmem.New(graphmem.Params{
		Store:     graphStore,
		Detector:  detector,
		Publisher: publisher,
	})

	app := &mid.App{
		Store:        graphStore,
		Memory:       memory,
		Key:          key,
		MasterAPIKey: util.GetEnvString("MASTER_API_KEY", ""),
	}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
