// Package main provides the island daemon entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/musicisland/internal/api/connect"
	"github.com/osa030/musicisland/internal/app/capability"
	"github.com/osa030/musicisland/internal/app/host"
	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/app/notification"
	"github.com/osa030/musicisland/internal/app/overlay"
	"github.com/osa030/musicisland/internal/app/palette"
	"github.com/osa030/musicisland/internal/app/probe"
	"github.com/osa030/musicisland/internal/app/settings"
	"github.com/osa030/musicisland/internal/infra/artwork"
	"github.com/osa030/musicisland/internal/infra/config"
	"github.com/osa030/musicisland/internal/infra/desktop"
	"github.com/osa030/musicisland/internal/infra/logger"
	"github.com/osa030/musicisland/internal/infra/logind"
	"github.com/osa030/musicisland/internal/infra/mpris"
	"github.com/osa030/musicisland/internal/infra/sqlite"
	"github.com/osa030/musicisland/internal/infra/x11"
)

var (
	app        = kingpin.New("musicisland", "Now-playing island overlay daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/island.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check command
	checkCmd = app.Command("check", "Report platform capabilities and exit")
)

func init() {
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.FromFlags(*verbose, *logfile, "stdout")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	b := openBackends()
	defer b.Close()

	if command == checkCmd.FullCommand() {
		printCapabilities(b.checker())
		return
	}

	if err := run(cfg, b); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		os.Exit(1)
	}
}

// backends are the platform connections. Any of them may be nil.
type backends struct {
	sessions *mpris.Manager
	lock     *logind.Lock
	display  *x11.Display
	notifier *desktop.Notifier
}

func openBackends() *backends {
	b := &backends{}
	var err error
	if b.sessions, err = mpris.Connect(clockwork.NewRealClock()); err != nil {
		zlog.Warn().Err(err).Msg("MPRIS unavailable")
	}
	if b.lock, err = logind.Connect(); err != nil {
		zlog.Warn().Err(err).Msg("logind unavailable, the session is treated as unlocked")
	}
	if b.display, err = x11.Open(); err != nil {
		zlog.Warn().Err(err).Msg("X11 unavailable, the target player never counts as foreground")
	}
	if b.notifier, err = desktop.Connect(); err != nil {
		zlog.Warn().Err(err).Msg("desktop notifications unavailable")
	}
	return b
}

func (b *backends) checker() *capability.Checker {
	granted := func(ok bool) capability.Check {
		return func(context.Context) bool { return ok }
	}
	var blur capability.Check
	if b.display != nil {
		blur = func(context.Context) bool { return b.display.CompositorRunning() }
	}
	return capability.NewChecker(map[capability.Capability]capability.Check{
		capability.OverlayDraw:          granted(b.display != nil || b.notifier != nil),
		capability.NotificationListener: granted(b.sessions != nil),
		capability.UsageAccess:          granted(b.display != nil),
		capability.PostNotifications:    granted(b.notifier != nil),
	}, blur)
}

// usage returns the focus event source, or nil without a display.
func (b *backends) usage() probe.UsageEvents {
	if b.display == nil {
		return nil
	}
	return x11.NewUsage(b.display, clockwork.NewRealClock())
}

// lockState returns the lock source, or nil without logind.
func (b *backends) lockState() probe.LockState {
	if b.lock == nil {
		return nil
	}
	return b.lock
}

// overlayNotifier returns the notifier, or nil without a notification daemon.
func (b *backends) overlayNotifier() overlay.Notifier {
	if b.notifier == nil {
		return nil
	}
	return b.notifier
}

func (b *backends) Close() {
	if b.notifier != nil {
		_ = b.notifier.Close()
	}
	if b.display != nil {
		b.display.Close()
	}
	if b.lock != nil {
		_ = b.lock.Close()
	}
	if b.sessions != nil {
		_ = b.sessions.Close()
	}
}

func printCapabilities(checker *capability.Checker) {
	ctx := context.Background()
	fmt.Println("Capabilities:")
	for _, s := range checker.Report(ctx) {
		mark := "ok"
		if !s.Granted {
			mark = "missing"
		}
		fmt.Printf("  %-24s %-8s %s\n", s.Capability, mark, s.Hint)
	}
	for _, w := range checker.Warnings(ctx) {
		fmt.Printf("Warning: %s\n", w)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config, b *backends) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := b.checker()
	if err := checker.Require(ctx, capability.NotificationListener); err != nil {
		return err
	}
	warnings := checker.Warnings(ctx)
	for _, w := range warnings {
		zlog.Warn().Msg(w)
	}

	// Settings
	repo, err := sqlite.Open(cfg.Settings.DBPath)
	if err != nil {
		return errors.Wrap(err, "failed to open settings database")
	}
	defer repo.Close()
	store := settings.NewStore(ctx, repo)
	defer store.Close()

	// Overlay
	frames := notification.NewManager(notification.DefaultBuffer)
	defer frames.Close()
	surfaces, err := overlay.NewSurfacesFromConfig(usableSurfaces(cfg, b.notifier != nil), overlay.Backends{
		Notifier:    b.overlayNotifier(),
		Broadcaster: frames,
		Counter:     frames,
		Clock:       clockwork.NewRealClock(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create overlay surfaces")
	}
	presenter := overlay.NewPresenter(surfaces...)

	// Hosts
	hostConfig := host.Config{
		Island: island.Config{
			PauseAutoHide:    cfg.PauseAutoHide(),
			StopDebounce:     cfg.StopDebounce(),
			SessionLostGrace: cfg.SessionLostGrace(),
		},
		Probe: probe.Config{
			TargetApp:        strings.ToLower(cfg.Target.WindowClass),
			Interval:         cfg.ProbeInterval(),
			ForegroundWindow: cfg.ForegroundWindow(),
			StaleFallback:    cfg.StaleFallback(),
		},
		Media:     media.Config{Target: cfg.Target.Player},
		Heartbeat: cfg.Heartbeat(),
	}
	deps := host.Deps{
		Sessions:  b.sessions,
		Lock:      b.lockState(),
		Usage:     b.usage(),
		Settings:  store,
		Presenter: presenter,
		ArtLoader: palette.ExtractFile,
	}
	if fetcher, err := artwork.New(artwork.Config{}); err != nil {
		zlog.Warn().Err(err).Msg("Album art cache unavailable, remote art is not fetched")
	} else {
		deps.ArtResolver = fetcher.Resolve
	}
	supervisor := host.NewSupervisor(b.sessions, func() *host.Host {
		return host.New(deps, hostConfig)
	}, host.SupervisorConfig{
		Target:         cfg.Target.Player,
		RescanInterval: cfg.RescanInterval(),
	})
	supervisor.OnHostStarted(func(h *host.Host) {
		zlog.Info().Msgf("Island host started: id=%s", h.ID())
	})
	controls := supervisor.Controls()

	if b.notifier != nil {
		gestures := overlay.NewGestures(controls, controls)
		b.notifier.OnAction(func(_ uint32, key string) {
			gestures.HandleAction(key)
		})
	}

	// Control API
	apiDone := make(chan struct{})
	service := apiconnect.NewIslandService(apiconnect.Deps{
		Hosts:    supervisor,
		Controls: controls,
		Settings: store,
		Frames:   frames,
		Warnings: warnings,
	}, apiDone)

	var opts []connect.HandlerOption
	if cfg.Server.Token != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)))
	} else {
		zlog.Warn().Msg("Control API token not set, the API is unauthenticated")
	}
	mux := http.NewServeMux()
	path, handler := service.Handler(opts...)
	mux.Handle(path, handler)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	supervisorDone := make(chan error, 1)
	go func() {
		supervisorDone <- supervisor.Run(ctx)
	}()

	go func() {
		zlog.Info().Msgf("Starting control API: addr=%s", cfg.Server.Addr)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal, supervisor end, or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-supervisorDone:
		if err != nil {
			runErr = errors.Wrap(err, "supervisor stopped")
		}
		supervisorDone <- nil
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Stop the host first so the overlay is hidden before the API goes away
	cancel()
	<-supervisorDone
	close(apiDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Daemon stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// usableSurfaces drops desktop surfaces when no notification daemon is
// available, keeping at least the stream surface.
func usableSurfaces(cfg *config.Config, hasNotifier bool) *config.Config {
	if hasNotifier {
		return cfg
	}
	out := *cfg
	out.Overlay.Surfaces = nil
	for _, s := range cfg.Overlay.Surfaces {
		if s.Type == "desktop" {
			zlog.Warn().Msg("Skipping desktop surface: no notification daemon")
			continue
		}
		out.Overlay.Surfaces = append(out.Overlay.Surfaces, s)
	}
	if len(out.Overlay.Surfaces) == 0 {
		out.Overlay.Surfaces = []config.SurfaceConfig{{Type: "stream"}}
	}
	return &out
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
