// Package server builds the application's dependencies and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-scraper/internal/api"
	"github.com/JakeFAU/clinic-scraper/internal/clock/system"
	"github.com/JakeFAU/clinic-scraper/internal/config"
	"github.com/JakeFAU/clinic-scraper/internal/content"
	"github.com/JakeFAU/clinic-scraper/internal/crawler"
	"github.com/JakeFAU/clinic-scraper/internal/extractor/gemini"
	collyfetcher "github.com/JakeFAU/clinic-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/clinic-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/clinic-scraper/internal/headless/detector"
	"github.com/JakeFAU/clinic-scraper/internal/id/uuid"
	"github.com/JakeFAU/clinic-scraper/internal/logging"
	"github.com/JakeFAU/clinic-scraper/internal/metrics"
	"github.com/JakeFAU/clinic-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/clinic-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/clinic-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/clinic-scraper/internal/scraper"
)

const shutdownTimeout = 10 * time.Second

type closablePublisher interface {
	crawler.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	renderer  *headlessfetcher.Renderer
	publisher closablePublisher
}

// Dependencies lets callers replace network-facing collaborators. Nil fields are built from config.
type Dependencies struct {
	Logger    *zap.Logger
	Extractor crawler.Extractor
	Publisher closablePublisher
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	return BuildWith(ctx, cfg, Dependencies{})
}

// BuildWith creates the application's dependencies, using deps where provided.
func BuildWith(ctx context.Context, cfg config.Config, deps Dependencies) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("addr", cfg.Addr()),
		zap.String("model", cfg.Gemini.Model),
		zap.Bool("headless", cfg.RenderingEnabled()),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	siteCrawler, err := app.setupCrawler()
	if err != nil {
		return nil, err
	}

	extractor := deps.Extractor
	if extractor == nil {
		extractor, err = gemini.NewFromAPIKey(ctx, cfg.Gemini.APIKey, gemini.Config{
			Model:         cfg.Gemini.Model,
			Timeout:       time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
			MaxInputChars: cfg.Extractor.MaxInputChars,
		}, logger.Named("gemini"))
		if err != nil {
			app.closeInfrastructure()
			return nil, fmt.Errorf("extractor init failed: %w", err)
		}
	}

	app.publisher = deps.Publisher
	if app.publisher == nil {
		app.publisher, err = app.setupPublisher(ctx)
		if err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}

	svc, err := scraper.New(siteCrawler, extractor,
		scraper.WithPublisher(app.publisher),
		scraper.WithLimits(content.Limits{
			MaxPageChars:  cfg.Extractor.MaxPageChars,
			MaxTotalChars: cfg.Extractor.MaxTotalChars,
		}),
		scraper.WithLogger(logger.Named("scraper")),
		scraper.WithClock(system.New().Now),
	)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}

	var opts []api.Option
	if app.renderer != nil {
		opts = append(opts, api.WithReadinessCheck(app.renderer.Ready))
	}
	app.apiServer = api.NewServer(svc, uuid.New(), cfg, logger.Named("api"), opts...)
	return app, nil
}

func (a *App) setupCrawler() (*collyfetcher.Crawler, error) {
	opts := []collyfetcher.Option{
		collyfetcher.WithLogger(a.logger.Named("crawler")),
		collyfetcher.WithRateLimiter(ratelimit.New(ratelimit.Config{RPS: a.cfg.Crawler.HostQPS, Burst: 1, Stage: "fetch"})),
		collyfetcher.WithBlocklist(crawler.NewHostBlocklist(a.cfg.Crawler.BlockedHosts)),
	}
	if a.cfg.RenderingEnabled() {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
			DomainQPS:         a.cfg.Headless.DomainQPS,
		}, a.logger.Named("headless"))
		if err != nil {
			return nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		a.renderer = renderer
		opts = append(opts, collyfetcher.WithRenderer(renderer, detector.NewHeuristic(a.cfg.Headless.PromotionThresh)))
		a.logger.Info("using headless renderer",
			zap.Int("max_parallel", a.cfg.Headless.MaxParallel),
			zap.String("mode", string(a.cfg.RenderMode())),
		)
	}

	c := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: !a.cfg.Crawler.IgnoreRobots,
		Timeout:       time.Duration(a.cfg.Crawler.RequestTimeoutSeconds) * time.Second,
		RenderMode:    a.cfg.RenderMode(),
	}, opts...)
	a.logger.Info("using colly crawler",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Bool("respect_robots", !a.cfg.Crawler.IgnoreRobots),
		zap.Float64("host_qps", a.cfg.Crawler.HostQPS),
	)
	return c, nil
}

func (a *App) setupPublisher(ctx context.Context) (closablePublisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		a.Close()
		return fmt.Errorf("listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			a.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.Close()
	return runErr
}

// Close releases the renderer and publisher and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
		a.publisher = nil
	}
}
