package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"os/signal"

	"github.com/spf13/cobra"

	"github.com/orbitwatch/orbitwatch/internal/alarm"
	"github.com/orbitwatch/orbitwatch/internal/api"
	"github.com/orbitwatch/orbitwatch/internal/bus"
	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/coa"
	"github.com/orbitwatch/orbitwatch/internal/config"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/mission"
	"github.com/orbitwatch/orbitwatch/internal/orbital"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the screening service",
	Long:  "serve starts the periodic conjunction detector, the COA planner and decision machinery, and the ops HTTP server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(configPath)
		if err != nil {
			return err
		}
		logger := p.logger

		srv := api.NewServer(p.cfg.HTTPAddr, p.orbits, p.detector, p.conjunctions, p.coas, p.planner, p.decisions, logger)

		// Graceful shutdown on SIGINT/SIGTERM.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go p.detector.Run(ctx)
		go p.autoPlan(ctx)

		// Sweep stale proposed COAs alongside the screening cadence.
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := p.coas.ExpireStale(time.Now().UTC()); n > 0 {
						logger.Info("expired stale courses of action", "count", n)
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			logger.Info("starting ops server",
				"addr", p.cfg.HTTPAddr,
				"engine_mode", p.cfg.Engine.Mode,
				"assets", len(p.catalog.Assets()),
				"objects", len(p.catalog.Objects()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server listen error", "error", err)
				os.Exit(1)
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			os.Exit(1)
		}

		logger.Info("stopped")
		return nil
	},
}

// pipeline holds the wired service components.
type pipeline struct {
	cfg          *config.Config
	logger       *slog.Logger
	catalog      *catalog.Catalog
	orbits       *orbital.Client
	conjunctions *conjunction.Store
	detector     *conjunction.Detector
	coas         *coa.Store
	planner      *coa.Planner
	decisions    *coa.Manager
	events       *bus.Bus
}

// autoPlan watches for new high and critical conjunctions and generates the
// candidate COAs up front so operators review maneuvers, not raw geometry.
// Selection stays with the operator.
func (p *pipeline) autoPlan(ctx context.Context) {
	events := p.events.Subscribe(conjunction.TopicConjunctions, 64)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			conj, ok := ev.Payload.(conjunction.Conjunction)
			if !ok {
				continue
			}
			if conj.Severity != conjunction.SeverityHigh && conj.Severity != conjunction.SeverityCritical {
				continue
			}
			if len(p.coas.ByConjunction(conj.ID)) > 0 {
				continue
			}
			if _, err := p.planner.GenerateCOAs(ctx, conj.ID); err != nil {
				p.logger.Warn("automatic planning failed",
					"conjunction_id", conj.ID,
					"severity", string(conj.Severity),
					"error", err,
				)
			}
		}
	}
}

// buildPipeline loads config and wires the full detection/planning stack.
func buildPipeline(path string) (*pipeline, error) {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(bootLogger)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	cat, err := cfg.BuildCatalog(logger)
	if err != nil {
		return nil, err
	}

	var engine ephemeris.Engine
	switch cfg.Engine.Mode {
	case "http":
		engine = ephemeris.NewHTTPEngine(cfg.Engine.URL, cfg.EngineTimeout())
	default:
		engine = ephemeris.NewSGP4Engine()
	}

	orbits := orbital.NewClient(engine, cfg.OrbitalConfig(), logger)
	events := bus.New()
	conjStore := conjunction.NewStore()
	detector := conjunction.NewDetector(orbits, cat, conjStore, alarm.NewLogger(logger), events, cfg.DetectorConfig(), logger)

	coaStore := coa.NewStore()
	planner := coa.NewPlanner(orbits, cat, conjStore, coaStore, cfg.PlannerConfig(), logger)
	decisions := coa.NewManager(coaStore, conjStore, mission.NewStub(logger), events, logger)

	return &pipeline{
		cfg:          cfg,
		logger:       logger,
		catalog:      cat,
		orbits:       orbits,
		conjunctions: conjStore,
		detector:     detector,
		coas:         coaStore,
		planner:      planner,
		decisions:    decisions,
		events:       events,
	}, nil
}
