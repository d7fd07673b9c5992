package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/Wyydra/wacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/wacall/internal/adapter/driven/media/pion"
	"github.com/Wyydra/wacall/internal/adapter/driven/platform"
	"github.com/Wyydra/wacall/internal/adapter/driven/platform/memory"
	handler "github.com/Wyydra/wacall/internal/adapter/driving/http"
	"github.com/Wyydra/wacall/internal/config"
	"github.com/Wyydra/wacall/internal/core/domain"
	"github.com/Wyydra/wacall/internal/core/port"
	"github.com/Wyydra/wacall/internal/core/service"
	"github.com/Wyydra/wacall/internal/logging"
)

var errNoConfig = errors.New("no config: pass --config, --config-body or --sandbox")

func main() {
	cmd := &cli.Command{
		Name:        "callctl",
		Usage:       "WhatsApp call session controller",
		Description: "Places and answers platform calls and negotiates their audio over WebRTC",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("WACALL_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("WACALL_CONFIG_BODY"),
			},
			&cli.BoolFlag{
				Name:  "sandbox",
				Usage: "use the in-process echo platform instead of a real backend",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "override http.listen",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// backend is whichever platform implementation the config selects.
type backend struct {
	gateway port.SignalingGateway
	feed    port.NotificationFeed
	run     func(ctx context.Context) error
	close   func()
	sandbox *memory.Platform
}

func run(ctx context.Context, c *cli.Command) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	logging.Setup(conf.Log.Level, conf.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := newBackend(ctx, conf)
	if err != nil {
		return err
	}
	defer be.close()

	engine, err := newEngine(conf)
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	calls := service.NewCallService(be.gateway, engine, hub, service.CallOptions{
		BackendTimeout: conf.Call.BackendTimeout,
		GracePeriod:    conf.Call.GracePeriod,
		TickInterval:   conf.Call.TickInterval,
	})
	listener := service.NewNotificationListener(be.feed, calls)

	srv := &http.Server{
		Addr:              conf.HTTP.Listen,
		Handler:           router(handler.NewHandler(calls, hub), be.sandbox),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return calls.Run(ctx) })
	g.Go(func() error { return listener.Run(ctx) })
	if be.run != nil {
		g.Go(func() error { return be.run(ctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", conf.HTTP.Listen).Bool("sandbox", conf.Platform.Sandbox).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	err = g.Wait()
	<-calls.Done()
	log.Info().Msg("Server exited")
	return err
}

func getConfig(c *cli.Command) (*config.Config, error) {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" && configFile != "" {
		content, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		configBody = string(content)
	}
	if configBody == "" && !c.Bool("sandbox") && os.Getenv("WACALL_API_KEY") == "" {
		return nil, errNoConfig
	}

	conf, err := config.NewConfig(configBody)
	if err != nil {
		return nil, err
	}
	if c.Bool("sandbox") {
		conf.Platform.Sandbox = true
	}
	if l := c.String("listen"); l != "" {
		conf.HTTP.Listen = l
	}
	if err := conf.Init(); err != nil {
		return nil, err
	}
	return conf, nil
}

func newBackend(ctx context.Context, conf *config.Config) (*backend, error) {
	if conf.Platform.Sandbox {
		sb, err := memory.New(memory.Options{AnswerDelay: 3 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("sandbox platform: %w", err)
		}
		return &backend{gateway: sb, feed: sb, close: sb.Close, sandbox: sb}, nil
	}

	client := platform.NewClient(platform.Config{
		URL:     conf.Platform.URL,
		APIKey:  conf.Platform.APIKey,
		Timeout: conf.Platform.Timeout,
	})
	authCtx, cancel := context.WithTimeout(ctx, conf.Platform.Timeout)
	defer cancel()
	if err := client.Authenticate(authCtx); err != nil {
		return nil, fmt.Errorf("platform authentication: %s", domain.Describe(err))
	}
	log.Info().Str("url", conf.Platform.URL).Msg("Authenticated with platform")

	feed := platform.NewFeed(platform.FeedConfig{
		URL:            conf.Platform.RealtimeURL,
		APIKey:         conf.Platform.APIKey,
		ReconnectDelay: conf.Platform.ReconnectDelay,
	})
	return &backend{gateway: client, feed: feed, run: feed.Run, close: feed.Close}, nil
}

func newEngine(conf *config.Config) (*pion.Engine, error) {
	var source pion.Source
	switch conf.Media.Source {
	case "file":
		source = &pion.FileSource{Path: conf.Media.File}
	default:
		dev, err := pion.NewDeviceSource()
		if err != nil {
			return nil, err
		}
		source = dev
	}

	sinks := pion.Discard()
	if conf.Media.RecordingDir != "" {
		if err := os.MkdirAll(conf.Media.RecordingDir, 0o755); err != nil {
			return nil, fmt.Errorf("recording dir: %w", err)
		}
		sinks = pion.OggRecorder(conf.Media.RecordingDir)
	}

	return pion.NewEngine(pion.Config{
		Source:        source,
		Sinks:         sinks,
		ICEServers:    conf.Media.ICEServers,
		GatherTimeout: conf.Call.ICEGatherTimeout,
	})
}

// router adds sandbox controls for simulating the remote party.
func router(h *handler.Handler, sb *memory.Platform) http.Handler {
	if sb == nil {
		return h.NewRouter()
	}
	r := chi.NewRouter()
	r.Post("/sandbox/ring", func(w http.ResponseWriter, req *http.Request) {
		from := req.URL.Query().Get("from")
		if from == "" {
			from = "+15550000000"
		}
		id := sb.Ring(from, req.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, id)
	})
	r.Post("/sandbox/hangup", func(w http.ResponseWriter, req *http.Request) {
		st, err := domain.ParseCallStatus(req.URL.Query().Get("status"))
		if err != nil {
			st = domain.StatusEnded
		}
		sb.Hangup(domain.CallID(req.URL.Query().Get("call_id")), st)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Mount("/", h.NewRouter())
	return r
}
