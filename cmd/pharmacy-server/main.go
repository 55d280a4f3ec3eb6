package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/pharmacy/internal/config"
	"github.com/ehr/pharmacy/internal/domain/counseling"
	"github.com/ehr/pharmacy/internal/domain/formulary"
	"github.com/ehr/pharmacy/internal/domain/medicationerror"
	"github.com/ehr/pharmacy/internal/domain/pharmacy"
	"github.com/ehr/pharmacy/internal/domain/refill"
	"github.com/ehr/pharmacy/internal/domain/safety"
	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/internal/platform/db"
	"github.com/ehr/pharmacy/internal/platform/middleware"
	"github.com/ehr/pharmacy/internal/platform/scheduler"
	"github.com/ehr/pharmacy/migrations"
)

const (
	version         = "0.1.0"
	digestJob       = "safety-digest"
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pharmacy-server",
		Short: "Pharmacy safety API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the pharmacy API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFS returns the embedded migrations unless dir points elsewhere.
func migrationFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, migrationFS(dir)).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("tenant", "", "Tenant whose schema to migrate (default DEFAULT_TENANT)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status for a tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(tenant)
			statuses, err := db.NewMigrator(pool, migrationFS(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), schema, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("tenant", "", "Tenant whose schema to inspect (default DEFAULT_TENANT)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if !db.ValidTenantID(name) {
				return fmt.Errorf("invalid tenant name %q: use letters, digits and underscores", name)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name, migrations.FS); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (letters, digits, underscores)")
	cmd.AddCommand(createCmd)

	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the effective prescription safety rules as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				file = os.Getenv("SAFETY_RULES_FILE")
			}
			catalog, err := safety.LoadCatalog(file)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Categories []string `json:"categories"`
				safety.CatalogView
			}{safety.Categories(), catalog.View()})
		},
	}
	cmd.Flags().String("file", "", "Rules file extending the built-in catalog (default SAFETY_RULES_FILE)")
	return cmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// services holds everything routes and background jobs share.
type services struct {
	pharmacy   *pharmacy.Service
	safety     *safety.Service
	counseling *counseling.Service
	refills    *refill.Service
	errors     *medicationerror.Service
	formulary  *formulary.Service
}

func newServices(pool *pgxpool.Pool, catalog *safety.Catalog, logger zerolog.Logger) *services {
	drugRepo := pharmacy.NewDrugRepoPG(pool)
	rxRepo := pharmacy.NewPrescriptionRepoPG(pool)
	pharmacySvc := pharmacy.NewService(drugRepo, rxRepo)

	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}

	return &services{
		pharmacy:   pharmacySvc,
		safety:     safety.NewService(pharmacySvc, safety.NewValidator(catalog), logger),
		counseling: counseling.NewService(counseling.NewSessionRepoPG(pool), pharmacySvc),
		refills:    refill.NewService(refill.NewRefillRepoPG(pool), rxRepo, inTx, logger),
		errors:     medicationerror.NewService(medicationerror.NewRepoPG(pool), logger),
		formulary:  formulary.NewService(formulary.NewRepoPG(pool), pharmacySvc),
	}
}

func registerRoutes(api *echo.Group, svc *services) {
	pharmacy.NewHandler(svc.pharmacy).RegisterRoutes(api)
	safety.NewHandler(svc.safety).RegisterRoutes(api)
	counseling.NewHandler(svc.counseling).RegisterRoutes(api)
	refill.NewHandler(svc.refills).RegisterRoutes(api)
	medicationerror.NewHandler(svc.errors).RegisterRoutes(api)
	formulary.NewHandler(svc.formulary).RegisterRoutes(api)
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	var verify echo.MiddlewareFunc
	if len(key) > 0 || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: key,
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify), nil
	}
	if verify == nil {
		return nil, fmt.Errorf("no token verification configured for ENV=%q", cfg.Env)
	}
	return verify, nil
}

func newEcho(cfg *config.Config, pool *pgxpool.Pool, svc *services, logger zerolog.Logger) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	authMW, err := authMiddleware(cfg)
	if err != nil {
		return nil, err
	}

	api := e.Group("/api/v1")
	useAPIMiddleware(api, cfg, authMW, db.TenantMiddleware(pool, cfg.DefaultTenant), logger)

	registerRoutes(api, svc)
	return e, nil
}

// useAPIMiddleware installs the /api/v1 chain. The rate limiter keys on the
// authenticated user and tenant, so it comes after auth.
func useAPIMiddleware(api *echo.Group, cfg *config.Config, authMW, tenantMW echo.MiddlewareFunc, logger zerolog.Logger) {
	if cfg.RequestTimeout > 0 {
		api.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	api.Use(authMW)
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	api.Use(tenantMW)
	api.Use(middleware.Audit(logger))
}

// safetyDigestJob logs the medication error digest of every tenant. A
// failing tenant does not stop the others.
func safetyDigestJob(pool *pgxpool.Pool, errs *medicationerror.Service, logger zerolog.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		tenants, err := db.ListTenants(ctx, pool)
		if err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
		failed := 0
		for _, tenant := range tenants {
			err := db.WithTenant(ctx, pool, tenant, func(ctx context.Context) error {
				d, err := errs.Digest(ctx)
				if err != nil {
					return err
				}
				logDigest(logger, tenant, d)
				return nil
			})
			if err != nil {
				failed++
				logger.Error().Err(err).Str("tenant", tenant).Msg("safety digest failed")
			}
		}
		if failed > 0 {
			return fmt.Errorf("safety digest failed for %d of %d tenants", failed, len(tenants))
		}
		return nil
	}
}

func logDigest(logger zerolog.Logger, tenant string, d *medicationerror.Digest) {
	ev := logger.Info()
	if d.OpenHarmful > 0 {
		ev = logger.Warn()
	}
	ev = ev.Str("tenant", tenant).
		Int("open_errors", d.OpenErrors).
		Int("open_harmful", d.OpenHarmful)
	if d.OldestOpen != nil {
		ev = ev.Time("oldest_open", *d.OldestOpen)
	}
	if d.LastDay != nil {
		ev = ev.Int("last_day_errors", d.LastDay.TotalErrors).
			Float64("last_day_harmful_rate", d.LastDay.HarmfulErrorRate)
	}
	ev.Msg("medication safety digest")
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	catalog, err := safety.LoadCatalog(cfg.SafetyRulesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.SafetyRulesFile).Msg("failed to load safety rules")
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svc := newServices(pool, catalog, logger)
	e, err := newEcho(cfg, pool, svc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	sched := scheduler.New(logger)
	if cfg.SafetyDigestSchedule != "" {
		if err := sched.Add(digestJob, cfg.SafetyDigestSchedule, 0, safetyDigestJob(pool, svc.errors, logger)); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule safety digest")
		}
	}
	sched.Start()
	defer sched.Stop()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
