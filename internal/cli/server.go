package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizhub/internal/access"
	"quizhub/internal/app"
	"quizhub/internal/config"
	"quizhub/internal/domain"
	"quizhub/internal/infra/memory"
	"quizhub/internal/infra/postgres"
	rediscache "quizhub/internal/infra/redis"
	transport "quizhub/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backend is the store the services run on, with the loader snapshot caches read through.
type backend interface {
	app.Store
	memory.SnapshotLoader
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store backend
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
	} else {
		log.Warn().Msg("postgres url not configured, using the in-memory store")
		store = memory.NewStore()
	}

	var snapshots app.SnapshotSource
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		snapshots = rediscache.NewSnapshotCache(client, store, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		snapshots = memory.NewSnapshotCache(store, config.TTLDuration(cfg.Snapshots.TTL, 10*time.Minute))
	}

	// Users, categories, courses and tags live in other services; an empty
	// directory accepts every id.
	directory := memory.NewDirectory()
	hasher := access.NewBcryptHasher(cfg.Access.BcryptCost)

	versions := app.NewVersioningService(store, directory, directory, hasher)
	attempts := app.NewAttemptService(store, snapshots, access.NewGuard(hasher), app.AttemptConfig{
		AnonymousCeiling: cfg.Attempts.AnonymousCeiling,
	})

	if cfg.Postgres.URL == "" {
		if err := seedSampleQuiz(ctx, versions); err != nil {
			return err
		}
	}

	router := transport.NewRouter(
		transport.NewQuizHandler(versions),
		transport.NewAttemptHandler(attempts),
		transport.NewWSHandler(attempts),
	)
	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedSampleQuiz publishes a small anonymous-friendly quiz so the in-memory
// server has something to take.
func seedSampleQuiz(ctx context.Context, versions *app.VersioningService) error {
	const owner = "demo"
	quiz, err := versions.CreateQuiz(ctx, owner, app.QuizInput{
		Title:       "Sample arithmetic",
		Description: "Two warm-up questions.",
		Settings: domain.Settings{
			AllowAnonymous:     true,
			ShowCorrectAnswers: true,
			ShuffleAnswers:     true,
		},
	})
	if err != nil {
		return err
	}
	quiz, err = versions.AddQuestion(ctx, quiz.ID, owner, quiz.Version, app.QuestionInput{
		Type:   domain.QuestionSingleChoice,
		Text:   "What is 2 + 2?",
		Points: 1,
		Data:   json.RawMessage(`{"choices":[{"id":"o1","text":"3"},{"id":"o2","text":"4","correct":true},{"id":"o3","text":"5"}]}`),
	})
	if err != nil {
		return err
	}
	quiz, err = versions.AddQuestion(ctx, quiz.ID, owner, quiz.Version, app.QuestionInput{
		Type:   domain.QuestionFillBlank,
		Text:   "7 x 6 = ___",
		Points: 1,
		Data:   json.RawMessage(`{"answers":[["42"]],"numeric":true}`),
	})
	if err != nil {
		return err
	}
	version, err := versions.Publish(ctx, quiz.ID, owner)
	if err != nil {
		return err
	}
	log.Info().Str("quizId", quiz.ID).Int("version", version).Msg("seeded sample quiz")
	return nil
}
