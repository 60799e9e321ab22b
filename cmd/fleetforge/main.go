package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/fleetforge/orchestrator/internal/adapter/mcp"
	"github.com/fleetforge/orchestrator/internal/adapter/mcpview"
	"github.com/fleetforge/orchestrator/internal/adapter/postgres"
	"github.com/fleetforge/orchestrator/internal/config"
	"github.com/fleetforge/orchestrator/internal/domain/orch"
	"github.com/fleetforge/orchestrator/internal/logger"
	"github.com/fleetforge/orchestrator/internal/obs"
	"github.com/fleetforge/orchestrator/internal/orch/agentmgr"
	"github.com/fleetforge/orchestrator/internal/orch/audit"
	"github.com/fleetforge/orchestrator/internal/orch/bus"
	"github.com/fleetforge/orchestrator/internal/orch/deriver"
	"github.com/fleetforge/orchestrator/internal/orch/engine"
	"github.com/fleetforge/orchestrator/internal/orch/git"
	"github.com/fleetforge/orchestrator/internal/orch/gitpr"
	"github.com/fleetforge/orchestrator/internal/orch/item"
	"github.com/fleetforge/orchestrator/internal/orch/layout"
	"github.com/fleetforge/orchestrator/internal/orch/planwatch"
	"github.com/fleetforge/orchestrator/internal/orch/promptbuild"
	"github.com/fleetforge/orchestrator/internal/orch/pty"
	"github.com/fleetforge/orchestrator/internal/orch/reviewreceive"
	"github.com/fleetforge/orchestrator/internal/orch/worker"
	"github.com/fleetforge/orchestrator/internal/secrets"
	fleetgrpc "github.com/fleetforge/orchestrator/internal/transport/grpc"
	fleethttp "github.com/fleetforge/orchestrator/internal/transport/http"
	"github.com/fleetforge/orchestrator/internal/transport/ws"
)

// gitPoolLimit bounds concurrent git/gh invocations, following the
// teacher's practice of serializing host-process work through a
// fixed-size pool rather than letting every repository's goroutine
// shell out at once.
const gitPoolLimit = 4

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// clock is the production IDClock: every orch package declares its own
// identically-shaped IDClock interface, so one concrete type satisfies
// all of them.
type clock struct{}

func (clock) NewEventID() string { return uuid.NewString() }
func (clock) Now() time.Time     { return time.Now() }

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	appLogger, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(appLogger)
	defer logCloser.Close()

	slog.Info("config loaded",
		"data_root", cfg.DataRoot,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := layout.New(cfg.DataRoot)
	b := bus.New()
	c := clock{}

	shutdownObs, err := obs.InitProvider(ctx, "fleetforge", cfg.Observability.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(shutdownCtx); err != nil {
			slog.Error("observability shutdown failed", "error", err)
		}
	}()
	metrics, err := obs.NewMetrics()
	if err != nil {
		return err
	}
	if cfg.Observability.OTLPEndpoint != "" {
		slog.Info("observability exporting to otlp collector", "endpoint", cfg.Observability.OTLPEndpoint)
	} else {
		slog.Info("observability disabled: no otlp endpoint configured")
	}

	var recorder *audit.Recorder
	if cfg.Postgres.DSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		recorder = audit.NewRecorder(audit.NewPostgresStore(pool))
		slog.Info("audit trail backed by postgres")
	} else {
		recorder = audit.NewRecorder(nil)
		slog.Info("audit trail disabled: no postgres dsn configured")
	}

	spawner := &pty.Spawner{BinaryPath: cfg.AssistantBin}
	agents := agentmgr.New(l, b, spawner, c)
	agents.SetMetrics(metrics)

	gitPool := git.NewPool(gitPoolLimit)
	items := item.New(l, b, agents, gitPool, c, promptbuild.Planner)
	items.SetAuditRecorder(recorder)

	gitExec := gitpr.New(gitpr.GHCLIHost{}, gitPool, c)
	gitExec.SetMetrics(metrics)

	workerCtl := worker.New(l, b, agents, gitExec, c, promptbuild.Dev, promptbuild.Review)
	workerCtl.SetMaxReviewIterations(cfg.Worker.MaxReviewIterations)
	workerCtl.SetSnapshotInterval(cfg.Worker.SnapshotInterval)
	workerCtl.SetAuditRecorder(recorder)
	workerCtl.SetMetrics(metrics)

	planner := planwatch.New(l, b, agents, items, c)
	planner.SetAuditRecorder(recorder)

	reviewReceive := reviewreceive.New(l, b, agents, items, planner, c, promptbuild.ReviewReceive)
	reviewReceive.SetAuditRecorder(recorder)

	coordinator := engine.New(l, b, items, workerCtl)
	go coordinator.Run(ctx)

	// item.Manager.startPlanner starts the planner agent but cannot
	// call planwatch.Watch itself (planwatch imports item); bridge the
	// two here by reacting to the agent_started event instead.
	go watchPlanners(ctx, b, planner)

	memoDeriver, err := deriver.NewMemoizedDeriver(1 << 16)
	if err != nil {
		return err
	}
	defer memoDeriver.Close()

	view := &mcpview.View{Layout: l, Items: items, Deriver: memoDeriver}

	secretVault, err := secrets.NewVault(secrets.EnvLoader("FLEETFORGE_MCP_API_KEY"))
	if err != nil {
		return err
	}

	mcpSrv := mcp.NewServer(mcp.ServerConfig{
		Addr:    ":" + cfg.Server.MCPPort,
		Name:    "fleetforge",
		Version: "0.1.0",
		APIKey:  secretVault.Get("FLEETFORGE_MCP_API_KEY"),
	}, mcp.ServerDeps{Items: view, Approvals: view})
	if err := mcpSrv.Start(); err != nil {
		return err
	}
	defer func() { _ = mcpSrv.Stop(context.Background()) }()
	slog.Info("mcp server listening", "addr", mcpSrv.Addr())

	grpcSrv := fleetgrpc.NewServer(agents)
	grpcLn, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return err
	}
	go func() {
		if err := grpcSrv.Serve(grpcLn); err != nil {
			slog.Error("grpc server stopped", "error", err)
		}
	}()
	defer grpcSrv.GracefulStop()
	slog.Info("grpc server listening", "addr", grpcLn.Addr().String())

	handlers := &fleethttp.Handlers{
		Layout:        l,
		Bus:           b,
		Items:         items,
		Agents:        agents,
		Worker:        workerCtl,
		ReviewReceive: reviewReceive,
	}
	streamer := &ws.Streamer{Layout: l, Bus: b}
	router := fleethttp.MountRoutes(handlers, streamer, cfg.Server.CORSOrigin, cfg.Webhook)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// watchPlanners reacts to agent_started events for the planner role by
// running the plan watcher for that item in the background, so a
// planner agent's produced plan gets validated and turned into a
// plan_created event without item.Manager needing to import planwatch.
func watchPlanners(ctx context.Context, b *bus.Bus, planner *planwatch.Watcher) {
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != orch.EventAgentStarted {
				continue
			}
			var payload orch.AgentStartedPayload
			if err := ev.DecodePayload(&payload); err != nil || payload.Role != orch.RolePlanner {
				continue
			}
			itemID, agentID := ev.ItemID, ev.AgentID
			watchCtx := logger.WithAgentID(logger.WithItemID(ctx, itemID), agentID)
			go func() {
				if err := planner.Watch(watchCtx, itemID, orch.RolePlanner, agentID); err != nil {
					slog.Error("plan watcher failed",
						"item_id", logger.ItemID(watchCtx),
						"agent_id", logger.AgentID(watchCtx),
						"error", err)
				}
			}()
		}
	}
}
