package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"music-orchestrator/internal/backend"
	"music-orchestrator/internal/backend/ffmpeg"
	"music-orchestrator/internal/backend/simulated"
	"music-orchestrator/internal/dispatch"
	"music-orchestrator/internal/encoder"
	"music-orchestrator/internal/history"
	"music-orchestrator/internal/metrics"
	"music-orchestrator/internal/orchestrator"
	"music-orchestrator/internal/player"
	"music-orchestrator/internal/platform/youtube"
	"music-orchestrator/internal/registry"
	"music-orchestrator/internal/server"
	"music-orchestrator/internal/state"
	"music-orchestrator/pkg/deps"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the audio socket and the playback backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// node is a backend that can be shut down.
type node interface {
	backend.Node
	Close()
}

func newYouTube() *youtube.Extractor {
	yt := youtube.Config{}
	if cfg != nil {
		yt.CookiesFromBrowser = cfg.YouTube.CookiesBrowser
		yt.CookiesFile = cfg.YouTube.CookiesFile
	}
	return youtube.New(yt)
}

func serve(ctx context.Context) error {
	logger := log.With().Str("component", "main").Logger()

	if err := deps.NewChecker(requiredBinaries()...).CheckAll(); err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(promReg)

	store := state.NewStore()
	sources := newSources()

	var socket *server.SocketServer
	var n node
	switch cfg.Backend.Kind {
	case "simulated":
		sim := simulated.DefaultConfig()
		sim.TickInterval = cfg.Backend.TickInterval
		n = simulated.New(sim)
	default:
		format, err := encoder.ParseFormat(cfg.Backend.Format)
		if err != nil {
			return err
		}
		fc := ffmpeg.DefaultConfig()
		fc.Format = format
		fc.TickInterval = cfg.Backend.TickInterval
		fc.StuckThreshold = cfg.Backend.StuckThreshold
		fc.Encoder.SampleRate = cfg.Backend.SampleRate
		fc.Encoder.Channels = cfg.Backend.Channels

		socket = server.NewSocketServer(cfg.Server.SocketPath)
		n = ffmpeg.New(fc, sources.StreamURL, socket)
	}

	sessions := registry.New(n, store, player.WithVolume(cfg.Player.DefaultVolume))
	orch := orchestrator.New(sessions, store, sources, cfg.Player.CommandTimeout)

	var (
		repo   *history.Repository
		reader server.HistoryReader
	)
	if cfg.History.Enabled {
		var err error
		repo, err = history.Open(cfg.History.DSN)
		if err != nil {
			return err
		}
		defer repo.Close()
		reader = repo
	}

	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	api := server.NewAPI(orch, store, reader)
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.SetupRouter(api, promReg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatcher := dispatch.New(sessions, dispatch.Config{
		SampleInterval: cfg.Events.PositionSampleInterval,
		QueueSize:      cfg.Events.QueueSize,
		HandleTimeout:  cfg.Player.CommandTimeout,
	})

	if socket != nil {
		if err := socket.Start(ctx); err != nil {
			n.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := dispatcher.Run(gctx, n.Events())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if repo != nil {
		recorder := history.NewRecorder(repo, store)
		g.Go(func() error {
			err := recorder.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		logger.Info().Str("addr", httpSrv.Addr).Str("backend", cfg.Backend.Kind).Msg("HTTP API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("HTTP shutdown failed")
		}
		if err := sessions.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("Session shutdown failed")
		}
		n.Close()
		if socket != nil {
			socket.Stop()
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		logger.Error().Err(err).Msg("Server stopped")
		return err
	}
	logger.Info().Msg("Server stopped")
	return nil
}
