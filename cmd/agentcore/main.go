// Command agentcore runs the orchestration core daemon: the Agent Manager,
// the Agent Protocol Server, the RL Engine, and the Orchestrator that ties
// them together. The WebSocket endpoint this binary exposes is the sole
// inbound transport the core owns; any HTTP request/response façade over
// the core's operations is an external, out-of-process collaborator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/agent/manager"
	"github.com/kandev/agentcore/internal/agent/registry"
	"github.com/kandev/agentcore/internal/aps"
	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/rl"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/task"
)

var standardRoleNames = []string{"coordinator", "frontend", "backend", "dba", "devops", "security", "qa"}

// orchestratorEventSink adapts the Agent Manager's generic lifecycle
// publish interface to the Orchestrator's routing table.
type orchestratorEventSink struct {
	orch *orchestrator.Orchestrator
}

func (s orchestratorEventSink) Publish(eventType string, payload map[string]any) {
	agentID, _ := payload["agent_id"].(string)
	if agentID == "" {
		return
	}
	switch eventType {
	case "agent.spawned":
		role, _ := payload["role"].(string)
		s.orch.RegisterAgent(agentID, role, orchestrator.SourcePTY, nil, 0)
	case "agent.stopped":
		s.orch.UnregisterAgent(agentID)
	}
}

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentcore daemon")

	// 3. Create a cancellable context for background goroutines.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Pub-sub: NATS if configured, in-memory degraded mode otherwise.
	pubsub := buildPubSub(cfg, log)
	defer pubsub.Close()

	// 5. Pattern store: Postgres if configured, in-memory degraded mode otherwise.
	patternStore := buildPatternStore(ctx, cfg, log)
	defer patternStore.Close()

	// 6. Experience store: SQLite if configured, in-memory degraded mode otherwise.
	experienceStore := buildExperienceStore(cfg, log)
	defer experienceStore.Close()

	// 7. Task table.
	tasks := task.NewTable(cfg.Task.TableCap, cfg.Task.TTL(), log)
	tasks.StartSweeper(ctx, cfg.Task.SweepInterval())
	defer tasks.Stop()

	// 8. RL Engine, seeded with one routing action per standard role.
	space := rl.NewActionSpace(standardRoleNames)
	engine := rl.NewEngine(space, cfg.RL.ReplayCap, cfg.RL.QTableCap, time.Now().UnixNano())
	if cfg.RL.Algorithm != "" {
		engine.SetAlgorithm(cfg.RL.Algorithm)
	}

	// 9. Agent Manager (PTY-backed). Concrete agent types (commands, system
	// prompts) are operator-provided and registered after startup; an empty
	// registry still lets the daemon run with APS-only workers.
	reg := registry.NewRegistry(cfg.Agent.SystemPromptDir, log)
	am := manager.New(manager.Config{
		MaxAgents:       cfg.Agent.MaxAgents,
		SendTimeout:     cfg.Agent.SendTimeout(),
		StopGrace:       cfg.Agent.StopGrace(),
		SystemPromptDir: cfg.Agent.SystemPromptDir,
	}, reg, nil, log)
	defer am.StopAll()

	// 10. Agent Protocol Server (externally-run workers over WebSocket/JSON-RPC).
	apsServer := aps.NewServer(aps.Config{
		HeartbeatTimeout:  cfg.APS.HeartbeatTimeout(),
		PendingRequestTTL: cfg.APS.PendingRequestTTL(),
		GCInterval:        cfg.APS.GCInterval(),
		RequestTimeout:    cfg.APS.RequestTimeout(),
		OutboundQueueCap:  cfg.APS.OutboundQueueCap,
		APIKeys:           parseAPIKeys(cfg.APS.APIKeys),
	}, log)
	apsServer.Start(ctx)
	defer apsServer.Stop()

	// 11. Orchestrator, wiring together every delivery route and store.
	orchCfg := orchestrator.Config{
		RLEnabled:       cfg.RL.Enabled,
		DefaultMaxTasks: cfg.Agent.MaxAgents,
		DispatchTimeout: cfg.APS.RequestTimeout(),
	}
	orch := orchestrator.New(orchCfg, tasks, engine, &orchestrator.ManagerDispatcher{AM: am}, apsServer,
		patternStore, experienceStore, pubsub, log)

	apsServer.SetTaskResultHandler(func(agentID string, tr aps.TaskResult) {
		taskID, err := uuid.Parse(tr.TaskID)
		if err != nil {
			log.Warn("task result from APS worker had an unparseable task id", zap.String("agent_id", agentID), zap.Error(err))
			return
		}
		if _, err := orch.ProcessResult(ctx, task.Result{
			TaskID:  taskID,
			Success: tr.Success,
			Output:  tr.Output,
			Reason:  tr.Reason,
		}); err != nil {
			log.Error("failed to process APS task result", zap.String("agent_id", agentID), zap.Error(err))
		}
	})

	// APS workers register/disconnect independently of the PTY fleet's
	// lifecycle; route both into the same routing table.
	apsServer.SetAgentConnectHandler(func(agentID, role string) {
		orch.RegisterAgent(agentID, role, orchestrator.SourceAPS, nil, 0)
	})
	apsServer.SetAgentDisconnectHandler(func(agentID string) {
		orch.UnregisterAgent(agentID)
	})

	// PTY agents report their own lifecycle through the Manager's EventSink;
	// wired after construction since the sink closes over the Orchestrator
	// that was in turn built from this same Manager.
	am.SetEventSink(orchestratorEventSink{orch: orch})

	// 12. APS listener: apsServer is itself a plain http.Handler that
	// upgrades every request to a WebSocket connection.
	server := &http.Server{
		Addr:    cfg.APS.ListenAddr,
		Handler: apsServer,
	}

	go func() {
		log.Info("aps server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start aps server", zap.Error(err))
		}
	}()

	// 13. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentcore daemon")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("aps server shutdown error", zap.Error(err))
	}

	log.Info("agentcore daemon stopped")
}

func buildPubSub(cfg *config.Config, log *logger.Logger) store.PubSub {
	if !cfg.NATS.Enabled {
		return store.NewMemoryPubSub()
	}
	ps, err := store.NewNATSPubSub(cfg.NATS, log)
	if err != nil {
		log.Warn("failed to connect to NATS, continuing in degraded mode", zap.Error(err))
		return store.NewMemoryPubSub()
	}
	return ps
}

func buildPatternStore(ctx context.Context, cfg *config.Config, log *logger.Logger) store.PatternStore {
	if !cfg.Pattern.Enabled {
		return store.NewMemoryPatternStore()
	}
	ps, err := store.NewPostgresPatternStore(ctx, cfg.Pattern)
	if err != nil {
		log.Warn("failed to connect to pattern store, continuing in degraded mode", zap.Error(err))
		return store.NewMemoryPatternStore()
	}
	return ps
}

func buildExperienceStore(cfg *config.Config, log *logger.Logger) store.ExperienceStore {
	if !cfg.Experience.Enabled {
		return store.NewMemoryExperienceStore(cfg.RL.ReplayCap)
	}
	es, err := store.NewSQLiteExperienceStore(cfg.Experience.Path)
	if err != nil {
		log.Warn("failed to open experience database, continuing in degraded mode", zap.Error(err))
		return store.NewMemoryExperienceStore(cfg.RL.ReplayCap)
	}
	return es
}

// parseAPIKeys accepts "agent_id:api_key" pairs; entries with no colon are
// silently skipped.
func parseAPIKeys(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		for i := 0; i < len(p); i++ {
			if p[i] == ':' {
				out[p[:i]] = p[i+1:]
				break
			}
		}
	}
	return out
}
