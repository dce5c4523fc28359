package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"casevault/internal/backup"
	"casevault/internal/config"
	apperrors "casevault/internal/errors"
	"casevault/internal/infrastructure"
	"casevault/internal/license"
	"casevault/internal/lockout"
	customMiddleware "casevault/internal/middleware"
	"casevault/internal/security"
	"casevault/internal/services"
	handlers "casevault/internal/transport/http"
	"casevault/internal/vault"
	ws "casevault/internal/websocket"
)

const AppName = "Casevault"

// Version is set at build time with -ldflags "-X casevault/internal/app.Version=...".
var Version = "dev"

// Application is the runtime container: every long-lived component, built
// once by NewApplication and driven by Run.
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Lockout   *lockout.Controller
	Activator *license.Activator
	Vault     *vault.Manager
	Codec     *backup.Codec
	Hub       *ws.Hub
	Services  *ServiceContainer

	Router *chi.Mux
	Server *http.Server
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License services.LicenseService
	Vault   *services.VaultService
	Health  *services.HealthService
}

// Option adjusts how NewApplication builds components.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	licenseOpts   []license.Option
	authenticator vault.Authenticator
}

// WithLogger uses logger instead of the configured global logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLicenseOptions passes extra options to the license activator.
func WithLicenseOptions(opts ...license.Option) Option {
	return func(o *options) { o.licenseOpts = append(o.licenseOpts, opts...) }
}

// WithAuthenticator replaces the platform biometric prompt.
func WithAuthenticator(auth vault.Authenticator) Option {
	return func(o *options) { o.authenticator = auth }
}

// NewApplication builds the application. A nil cfg loads the configuration
// from file and environment.
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	o := &options{authenticator: vault.PlatformAuthenticator()}
	for _, opt := range opts {
		opt(o)
	}

	if cfg == nil {
		var err error
		if cfg, err = config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	paths, err := config.GetPaths(cfg.Paths.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logger := o.logger
	if logger == nil {
		if cfg.Logging.FilePath == "" {
			cfg.Logging.FilePath = paths.LogFile
		}
		if logger, err = infrastructure.InitializeLogger(cfg.Logging); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", Version))
	paths.LogPathResolution(logger)

	otelCfg := infrastructure.OTelConfigFrom(cfg.Observability)
	otelCfg.ServiceVersion = Version
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: providers,
	}
	if err := a.initializeComponents(o); err != nil {
		return nil, err
	}
	if err := a.setupRouter(); err != nil {
		return nil, err
	}
	a.createServer()
	return a, nil
}

// initializeComponents builds the trust boundary bottom-up. The hub comes
// first so lockout and vault events have somewhere to go.
func (a *Application) initializeComponents(o *options) error {
	meter := a.OTelProviders.Meter
	tracer := a.OTelProviders.Tracer

	hubMetrics, err := ws.InitializeMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to initialize websocket metrics: %w", err)
	}
	a.Hub = ws.NewHub(a.Logger, ws.WithMetrics(hubMetrics))

	device, err := security.LoadOrCreateDeviceKey(a.Paths.MachineIDFile)
	if err != nil {
		return fmt.Errorf("failed to load device key: %w", err)
	}

	a.Lockout, err = lockout.New(lockout.NewFileStore(a.Paths.LockoutFile),
		lockout.WithConfig(a.Config.Lockout),
		lockout.WithLogger(a.Logger),
		lockout.WithMeter(meter),
		lockout.WithNotifier(ws.LockoutNotifier(a.Hub)))
	if err != nil {
		return fmt.Errorf("failed to initialize lockout controller: %w", err)
	}

	licenseMetrics, err := license.InitializeLicenseMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to initialize license metrics: %w", err)
	}
	licenseOpts := append([]license.Option{
		license.WithProductTag(a.Config.License.ProductTag),
		license.WithLogger(a.Logger),
		license.WithMetrics(licenseMetrics),
		license.WithTracer(tracer),
	}, o.licenseOpts...)
	a.Activator, err = license.NewActivator(device, license.FilesFrom(a.Paths), a.Lockout, licenseOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize license activator: %w", err)
	}

	kdf := security.Argon2Params{
		MemoryKiB:   a.Config.KDF.MemoryKiB,
		Iterations:  a.Config.KDF.Iterations,
		Parallelism: a.Config.KDF.Parallelism,
	}
	vaultMetrics, err := vault.InitializeMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to initialize vault metrics: %w", err)
	}
	a.Vault, err = vault.NewManager(vault.FilesFrom(a.Paths), a.Lockout,
		vault.WithKDFParams(kdf),
		vault.WithBiometric(a.Config.Biometric, vault.NewKeychain(a.Config.Biometric.Service), o.authenticator),
		vault.WithSession(a.Config.Session),
		vault.WithEventSink(ws.VaultSink(a.Hub)),
		vault.WithLogger(a.Logger),
		vault.WithMetrics(vaultMetrics),
		vault.WithTracer(tracer))
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	backupMetrics, err := backup.InitializeMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to initialize backup metrics: %w", err)
	}
	a.Codec, err = backup.NewCodec(
		backup.WithParams(kdf),
		backup.WithMaxSize(a.Config.Backup.MaxImportBytes),
		backup.WithLogger(a.Logger),
		backup.WithMetrics(backupMetrics),
		backup.WithTracer(tracer))
	if err != nil {
		return fmt.Errorf("failed to initialize backup codec: %w", err)
	}

	licenseService := services.NewLicenseService(a.Activator, a.Vault, a.Hub, a.Logger)
	a.Services = &ServiceContainer{
		License: licenseService,
		Vault:   services.NewVaultService(a.Vault, a.Codec, a.Logger),
		Health: services.NewHealthService(Version, map[string]services.HealthChecker{
			"vault_dir":    services.DirectoryCheck(a.Paths.DataDir),
			"security_dir": services.DirectoryCheck(a.Paths.SecurityDir),
			"license":      services.LicenseCheck(licenseService),
		}, a.Logger),
	}

	// Status locks the vault itself when the license is tampered.
	ctx := infrastructure.EnsureTraceID(context.Background())
	if st := licenseService.Status(ctx); st.Tampered {
		a.Logger.ErrorContext(ctx, "license integrity check failed at startup", slog.String("reason", st.Reason))
	}
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	errs := apperrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)
	validate := customMiddleware.NewValidator()

	httpMetrics, err := customMiddleware.NewHTTPMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize http metrics: %w", err)
	}

	r := chi.NewRouter()
	r.NotFound(errs.NotFound)
	r.MethodNotAllowed(errs.MethodNotAllowed)

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(errs))
	r.Use(customMiddleware.SecurityHeaders)
	r.Use(customMiddleware.LoopbackHost(a.Logger))
	if rl := a.Config.Security.RateLimit; rl.Enabled {
		r.Use(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
	}

	// The event stream stays outside the tracing and license middleware so
	// the hijacked connection is never wrapped.
	r.Handle("/ws", ws.NewHandler(a.Hub, a.Config.WebSocket))
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewOTel(a.OTelProviders.Tracer, httpMetrics).Handler)
		r.Use(customMiddleware.NewLicenseGate(a.Services.License, errs, a.Logger).Handler)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Route("/api", func(r chi.Router) {
			r.Mount("/health", handlers.NewHealthHandler(a.Services.Health, a.Logger).Routes())
			r.Mount("/license", handlers.NewLicenseHandler(a.Services.License, validate, errs, a.Logger).Routes())
			r.Mount("/vault", handlers.NewVaultHandler(a.Services.Vault, validate, errs, a.Logger).Routes())
			r.Mount("/session", handlers.NewSessionHandler(a.Services.Vault, validate, errs, a.Logger).Routes())
			r.Post("/client-log", handlers.NewClientLogHandler(validate, errs, a.Logger).Handle)
		})
	})

	a.Router = r
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the server on ln alongside the hub and the auto-lock watcher.
// The vault is locked before Serve returns.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	logger := infrastructure.WithComponent(a.Logger, "app")

	logger.InfoContext(ctx, "Application started",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.String("version", Version))

	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Hub.Run(ctx)
	})
	g.Go(func() error {
		return a.Vault.Watch(ctx, a.Config.Session.CheckInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := a.Vault.Close(); err != nil {
		errs = append(errs, fmt.Errorf("vault close error: %w", err))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		infrastructure.WithError(a.Logger, err).ErrorContext(ctx, "Error shutting down OpenTelemetry")
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("log file close error: %w", err))
	}
	return errors.Join(errs...)
}
