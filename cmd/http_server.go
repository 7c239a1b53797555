package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frahmantamala/facilities-console/api"
	"github.com/frahmantamala/facilities-console/internal/alert"
	"github.com/frahmantamala/facilities-console/internal/badge"
	"github.com/frahmantamala/facilities-console/internal/core/events"
	"github.com/frahmantamala/facilities-console/internal/obs"
	"github.com/frahmantamala/facilities-console/internal/permission"
	"github.com/frahmantamala/facilities-console/internal/realtime"
	"github.com/frahmantamala/facilities-console/internal/session"
	"github.com/frahmantamala/facilities-console/internal/transport"
	"github.com/frahmantamala/facilities-console/internal/transport/rest"
	"github.com/frahmantamala/facilities-console/internal/transport/swagger"
	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var noAPI bool

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Run the operator console",
	Long:  `Keep the push channel open, show critical alerts in the terminal and serve the local console API`,
	Run: func(cmd *cobra.Command, args []string) {
		startConsole(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

type Dependencies struct {
	Runtime   *runtime
	Evaluator *permission.Evaluator
	Pipeline  *alert.Pipeline
	Channel   *realtime.Client
	Watcher   *session.Watcher
	Router    *chi.Mux
	Logger    *slog.Logger
}

func startConsole(in io.Reader, out io.Writer) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Runtime.close()

	cfg := deps.Runtime.config
	var server *http.Server
	serverErrChan := make(chan error, 1)

	if !noAPI {
		server = &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
			Handler:           deps.Router,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
		}
		deps.Logger.Info("starting console API", "address", server.Addr)
		go func() {
			serverErrChan <- server.ListenAndServe()
		}()
	}

	go readOperatorInput(ctx, in, deps.Pipeline, deps.Logger)

	select {
	case <-ctx.Done():
		deps.Logger.Info("received signal, shutting down...")
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("console API failed to start", "error", err)
		}
	}

	shutdown(deps, server)
	deps.Logger.Info("console stopped")
}

func shutdown(deps *Dependencies, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps.Channel.Stop()
	if deps.Watcher != nil {
		deps.Watcher.Stop()
	}
	deps.Pipeline.Reset()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("console API shutdown error", "error", err)
		}
	}
}

func initializeDependencies(ctx context.Context, out io.Writer) (*Dependencies, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	cfg := rt.config
	lg := rt.logger

	if _, err := swagger.Load(ctx, api.OpenAPI); err != nil {
		rt.close()
		return nil, err
	}

	var metrics http.Handler
	if cfg.Observability.Metrics.Enabled {
		obs.Init()
		metrics = obs.Handler()
	}

	evaluator := permission.NewEvaluator(rt.client, rt.manager, lg)
	evaluator.Follow(rt.manager)

	pipeline := alert.NewPipeline(alert.Config{
		DisplayTimeout: cfg.Alerts.DisplayTimeout,
		ToastTimeout:   cfg.Alerts.ToastTimeout,
		Presenter:      alert.NewTerminalPresenter(out, badge.DefaultTheme),
		Audio:          alert.NewBellPlayer(out, cfg.Alerts.BellInterval),
		Logger:         lg,
	})
	pipeline.Attach(rt.bus)

	rt.bus.Subscribe(events.EventTypeSessionExpired, func(_ context.Context, _ events.Event) error {
		fmt.Fprintln(out, "Session expired. Run `facilities login` to sign in again.")
		return nil
	})

	channel := newRealtimeClient(rt)
	channel.Follow(ctx, rt.manager)

	var watcher *session.Watcher
	if cfg.Session.Watch {
		watcher, err = session.NewWatcher(session.WatcherConfig{
			StorePath: cfg.Session.StorePath,
			Logger:    lg,
		}, rt.manager)
		if err != nil {
			lg.Warn("session watcher disabled", "error", err)
		} else {
			watcher.Start(ctx)
		}
	}

	if rt.manager.IsAuthenticated() {
		go func() {
			if _, err := evaluator.Sync(ctx); err != nil {
				lg.Warn("startup permission sync failed, using cached grants", "error", err)
			}
		}()
	} else {
		fmt.Fprintln(out, "Not signed in. Run `facilities login` in another terminal; the console follows.")
	}

	base := transport.NewBaseHandler(lg)
	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, rest.Dependencies{
		Health:         rest.NewHealthHandler(rt.manager, channel),
		Session:        session.NewHandler(base, rt.manager, rt.client, channel),
		Permission:     permission.NewHandler(base, evaluator),
		Alert:          alert.NewHandler(base, pipeline),
		Authorization:  permission.NewAuthorization(rt.manager, evaluator, lg),
		OpenAPI:        api.OpenAPI,
		Metrics:        metrics,
		MetricsPath:    cfg.Observability.Metrics.Path,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         lg,
	})

	return &Dependencies{
		Runtime:   rt,
		Evaluator: evaluator,
		Pipeline:  pipeline,
		Channel:   channel,
		Watcher:   watcher,
		Router:    router,
		Logger:    lg,
	}, nil
}

// readOperatorInput treats every line as an interaction; an empty line
// acknowledges the alert on screen.
func readOperatorInput(ctx context.Context, in io.Reader, pipeline *alert.Pipeline, lg *slog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "":
			if key, ok := pipeline.AcknowledgeDisplayed(); ok {
				lg.Debug("operator acknowledged alert", "key", key)
			}
		default:
			pipeline.Interact()
		}
	}
}

func init() {
	consoleCmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the local console API")
}
