package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careline/careline/internal/config"
	"github.com/careline/careline/internal/domain/assistant"
	"github.com/careline/careline/internal/domain/consent"
	"github.com/careline/careline/internal/domain/conversation"
	"github.com/careline/careline/internal/domain/escalation"
	"github.com/careline/careline/internal/domain/identity"
	"github.com/careline/careline/internal/domain/ingestion"
	"github.com/careline/careline/internal/domain/messaging"
	"github.com/careline/careline/internal/domain/provider"
	"github.com/careline/careline/internal/domain/records"
	"github.com/careline/careline/internal/platform/auth"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/dedupe"
	"github.com/careline/careline/internal/platform/gateway"
	"github.com/careline/careline/internal/platform/llm"
	"github.com/careline/careline/internal/platform/middleware"
	"github.com/careline/careline/internal/platform/notification"
	"github.com/careline/careline/internal/platform/retrieval"
	"github.com/careline/careline/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "careline-server",
		Short: "Phone-addressed patient messaging server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(providerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg == nil || cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API and webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply pending migrations before serving")
	return cmd
}

// openPool loads config and connects; used by the one-shot commands.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage provider profiles",
	}

	grant := &cobra.Command{
		Use:   "grant",
		Short: "Set a provider's escalation permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user-id")
			canUpdate, _ := cmd.Flags().GetBool("update")
			canClose, _ := cmd.Flags().GetBool("close")
			if userID == "" {
				return fmt.Errorf("--user-id is required")
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			dir := provider.NewDirectory(provider.NewRepo(pool), newLogger(cfg))
			p, err := dir.Grant(ctx, userID, canUpdate, canClose)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provider %s: canUpdate=%t canClose=%t\n",
				p.UserID, p.CanUpdateEscalations, p.CanCloseEscalations)
			return nil
		},
	}
	grant.Flags().String("user-id", "", "Identity provider subject of the provider")
	grant.Flags().Bool("update", false, "Allow updating escalations")
	grant.Flags().Bool("close", false, "Allow closing escalations")
	cmd.AddCommand(grant)

	return cmd
}

// authMiddleware picks token verification for the configured environment.
// Development accepts unauthenticated requests as admin but still verifies
// any token that is presented, when a verifier is configured.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.AuthSignKey != "" || cfg.AuthJWKSURL != "" || cfg.AuthIssuer != "" {
		jwksURL := cfg.AuthJWKSURL
		if jwksURL == "" && cfg.AuthIssuer != "" && cfg.AuthSignKey == "" {
			jwksURL = cfg.AuthIssuer + "/.well-known/jwks.json"
		}
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    jwksURL,
			SigningKey: []byte(cfg.AuthSignKey),
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify)
	}
	return verify
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	return e
}

// Services is every domain component the server routes to.
type Services struct {
	Identity      *identity.Resolver
	Providers     *provider.Directory
	Records       *records.Service
	Consent       *consent.Ledger
	Conversations *conversation.Ledger
	Escalations   *escalation.Service
	Ingestion     *ingestion.Tracker
	Assistant     *assistant.Orchestrator
	Messaging     *messaging.Pipeline
}

// Backends are the storage and outbound integrations Services run on.
type Backends struct {
	Records       records.Store
	Patients      identity.Repository
	Providers     provider.Repository
	Conversations conversation.Repository
	Notes         escalation.NoteRepository
	Tx            escalation.TxFunc
	Dedupe        dedupe.Store
	Sender        gateway.Sender
	Retrieval     *retrieval.Client
	Composer      llm.Composer
	Agent         assistant.Agent
}

func newServices(cfg *config.Config, b Backends, logger zerolog.Logger) *Services {
	s := &Services{}
	s.Identity = identity.NewResolver(b.Patients, logger)
	s.Providers = provider.NewDirectory(b.Providers, logger)
	s.Conversations = conversation.NewLedger(b.Conversations, logger)

	notifier := notification.NewNotifier(b.Sender, notification.NewTemplateEngine(), cfg.BroadcastConcurrency, logger)
	s.Consent = consent.NewLedger(b.Records, s.Identity, notifier, cfg.PublicBaseURL, logger)
	s.Records = records.NewService(b.Records, s.Consent, logger)

	s.Escalations = escalation.NewService(escalation.Deps{
		Store:     b.Records,
		Notes:     b.Notes,
		Tx:        b.Tx,
		Providers: s.Providers,
		Patients:  s.Identity,
		Audit:     s.Conversations,
		Notifier:  notifier,
		Logger:    logger,
	})

	s.Ingestion = ingestion.NewTracker(b.Retrieval, cfg.RetrievalNamespace, cfg.RetrievalTimeout, logger)

	s.Assistant = assistant.NewOrchestrator(assistant.Deps{
		Search:           b.Retrieval,
		Composer:         b.Composer,
		Agent:            b.Agent,
		Consent:          s.Consent,
		History:          s.Conversations,
		TopK:             cfg.RetrievalTopK,
		DefaultNamespace: cfg.RetrievalNamespace,
		Logger:           logger,
	})

	s.Messaging = messaging.NewPipeline(messaging.Deps{
		Dedupe:         b.Dedupe,
		Resolver:       s.Identity,
		Providers:      s.Providers,
		Consent:        s.Consent,
		Assistant:      s.Assistant,
		Escalations:    s.Escalations,
		Ledger:         s.Conversations,
		Sender:         b.Sender,
		UrgentKeywords: cfg.UrgentKeywords,
		Logger:         logger,
	})
	return s
}

// registerRoutes mounts the authenticated API under /api/v1 plus the public
// webhook and consent page.
func registerRoutes(e *echo.Echo, cfg *config.Config, s *Services, authMW echo.MiddlewareFunc) {
	api := e.Group("/api/v1")
	if authMW != nil {
		api.Use(authMW)
	}

	identity.NewHandler(s.Identity).RegisterRoutes(api)
	provider.NewHandler(s.Providers).RegisterRoutes(api)
	records.NewHandler(s.Records).RegisterRoutes(api)
	conversation.NewHandler(s.Conversations).RegisterRoutes(api)
	escalation.NewHandler(s.Escalations).RegisterRoutes(api)
	ingestion.NewHandler(s.Ingestion).RegisterRoutes(api)
	assistant.NewHandler(s.Assistant).RegisterRoutes(api)

	consentHandler := consent.NewHandler(s.Consent)
	consentHandler.RegisterRoutes(api)
	consentHandler.RegisterPublicRoutes(e)

	messaging.NewHandler(s.Messaging).RegisterRoutes(e,
		middleware.SharedSecret(middleware.WebhookSecretHeader, cfg.WebhookSecret))
}

func runServer(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		n, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	dedupeStore, redisClient, err := dedupe.New(cfg.RedisURL, cfg.DedupeTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure dedupe store")
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("REDIS_URL not set, message dedupe is per-process")
	}

	composer, err := llm.NewComposer(llm.Config{
		Provider:        cfg.LLMProvider,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIModel:     cfg.OpenAIModel,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		Timeout:         cfg.LLMTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure composer")
	}

	var agent assistant.Agent
	if cfg.AgentURL != "" {
		agent = llm.NewAgent(cfg.AgentURL, cfg.AgentToken, cfg.LLMTimeout)
	}

	rc := retrieval.NewClient(cfg.RetrievalURL, cfg.RetrievalAPIKey, cfg.RetrievalTimeout, logger)
	if !rc.Configured() {
		logger.Warn().Msg("RETRIEVAL_URL not set, answers and ingestion will fail")
	}

	services := newServices(cfg, Backends{
		Records:       records.NewStore(pool),
		Patients:      identity.NewRepo(pool),
		Providers:     provider.NewRepo(pool),
		Conversations: conversation.NewRepo(pool),
		Notes:         escalation.NewNoteRepo(pool),
		Tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		Dedupe:    dedupeStore,
		Sender:    gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayTimeout, logger),
		Retrieval: rc,
		Composer:  composer,
		Agent:     agent,
	}, logger)

	e := newEcho(cfg, logger)
	registerRoutes(e, cfg, services, authMiddleware(cfg))
	e.GET("/health/db", db.HealthHandler(pool, healthChecks(redisClient)))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("composer", composer.Name()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func healthChecks(client *redis.Client) map[string]db.Check {
	if client == nil {
		return nil
	}
	return map[string]db.Check{
		"redis": func(ctx context.Context) error { return client.Ping(ctx).Err() },
	}
}
