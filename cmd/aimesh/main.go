// Command aimesh runs the message router core: it loads configuration,
// wires the routing engine, dedup cache, scheduler, rate limiter, tenant
// manager, and durable store into a Pipeline, then serves inbound traffic
// over a length-prefixed TCP listener and the gorilla/mux admin API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	aimesh "github.com/YASSERRMD/AiMesh"
	"github.com/YASSERRMD/AiMesh/admin"
	"github.com/YASSERRMD/AiMesh/config"
	"github.com/YASSERRMD/AiMesh/dedup"
	"github.com/YASSERRMD/AiMesh/monitoring"
	"github.com/YASSERRMD/AiMesh/pipeline"
	"github.com/YASSERRMD/AiMesh/ratelimit"
	"github.com/YASSERRMD/AiMesh/router"
	"github.com/YASSERRMD/AiMesh/scheduler"
	"github.com/YASSERRMD/AiMesh/storage"
	"github.com/YASSERRMD/AiMesh/tenancy"
	"github.com/YASSERRMD/AiMesh/transport"
	"github.com/YASSERRMD/AiMesh/utils"
)

// budgetResetInterval is how often BudgetBook.ResetIfDue is swept.
const budgetResetInterval = time.Hour

func setupStore(valkeyEndpoint string, cfg storage.Config, logger *zap.SugaredLogger) (storage.Store, error) {
	if valkeyEndpoint == "" {
		return storage.NewMemoryStore(), nil
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{valkeyEndpoint}})
	if err != nil {
		return nil, err
	}
	return storage.NewValkeyStore(client, cfg, logger), nil
}

// requestFrame and acknowledgmentFrame are the JSON envelopes carried as
// the opaque payload of a transport frame; transport itself only frames
// bytes, so the ingress listener owns the encoding of what those bytes
// mean.
type requestFrame struct {
	AgentID             string            `json:"agent_id"`
	Payload             []byte            `json:"payload"`
	EstimatedCostTokens float64           `json:"estimated_cost_tokens"`
	BudgetTokens        float64           `json:"budget_tokens"`
	DeadlineMs          int64             `json:"deadline_ms"`
	Priority            int               `json:"priority"`
	DedupContext        string            `json:"dedup_context"`
	Metadata            map[string]string `json:"metadata"`
}

func ingressHandler(p *pipeline.Pipeline, logger *zap.SugaredLogger) transport.Handler {
	return func(payload []byte) []byte {
		var frame requestFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			logger.Warnw("failed to decode ingress frame", "error", err)
			ack := aimesh.NewFailureAck("", err)
			encoded, _ := json.Marshal(ack)
			return encoded
		}

		opts := []aimesh.RequestOption{
			aimesh.WithPriority(frame.Priority),
			aimesh.WithDedupContext(frame.DedupContext),
		}
		if frame.DeadlineMs != 0 {
			opts = append(opts, aimesh.WithDeadline(frame.DeadlineMs))
		}
		for k, v := range frame.Metadata {
			opts = append(opts, aimesh.WithMetadata(k, v))
		}

		m := aimesh.NewRequest(frame.AgentID, frame.Payload, frame.BudgetTokens, opts...)
		m.EstimatedCostTokens = frame.EstimatedCostTokens

		ack := p.Submit(m)
		encoded, err := json.Marshal(ack)
		if err != nil {
			logger.Warnw("failed to encode acknowledgment", "error", err)
			return nil
		}
		return encoded
	}
}

func main() {
	logger := utils.Must(zap.NewProduction())
	defer logger.Sync()
	sugar := logger.Sugar()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath, sugar)
	if err != nil {
		sugar.Fatalw("failed to load config", "error", err)
	}
	sugar.Infow("loaded config", "config", cfg)

	store, err := setupStore(cfg.ValkeyEndpoint, cfg.Storage, sugar)
	if err != nil {
		sugar.Fatalw("failed to set up durable store", "error", err)
	}

	registry := router.NewRegistry()
	budgets := router.NewBudgetBook()
	routerCfg := router.DefaultConfig()
	routerCfg.Weights = cfg.RouterWeights
	routerCfg.UnhealthyThreshold = cfg.UnhealthyThreshold
	r := router.New(routerCfg, registry, budgets, sugar)

	rl := ratelimit.New(cfg.RateLimit, sugar)

	dedupOpts := []dedup.Option{dedup.WithLogger(sugar)}
	if store != nil {
		dedupOpts = append(dedupOpts, dedup.WithStore(store))
	}
	dc := dedup.New(time.Duration(cfg.DedupTTLSeconds)*time.Second, dedupOpts...)

	sched := scheduler.New(scheduler.Config{
		MaxSize:     cfg.SchedulerMaxSize,
		DropExpired: cfg.SchedulerDropExpired,
	})

	tenants := tenancy.New(sugar)

	sender := transport.NewTCPSender()
	monitor := monitoring.New()
	monitor.SetStartedAt(time.Now())

	pl := pipeline.New(
		pipeline.Config{MessagesCollection: cfg.Storage.MessagesCollection},
		r, rl, dc, sched, tenants, store, sender, monitor, sugar,
	)

	stop := make(chan struct{})
	go pl.RunWorkers(cfg.WorkerCount, stop)
	go dc.RunCleanupLoop(time.Minute, stop)
	go tenants.RunDailyResetLoop(time.Hour, stop)
	go budgets.RunResetLoop(budgetResetInterval, stop)

	server, err := transport.Listen(cfg.ListenAddr, ingressHandler(pl, sugar), sugar)
	if err != nil {
		sugar.Fatalw("failed to bind transport listener", "error", err)
	}
	go func() {
		sugar.Infow("transport listener started", "address", server.Addr())
		if err := server.Serve(); err != nil {
			sugar.Infow("transport listener stopped", "error", err)
		}
	}()

	adminServer := admin.New(tenants, registry, monitor, sugar)
	muxRouter := mux.NewRouter()
	adminServer.RegisterRoutes(muxRouter)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		Debug:          false,
	})

	httpServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: corsMiddleware.Handler(muxRouter),
	}

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownSignal
		sugar.Infow("shutting down")

		close(stop)
		sched.Close()
		server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			sugar.Errorw("admin server forced to shutdown", "error", err)
		}
	}()

	sugar.Infow("starting admin API", "address", cfg.AdminAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("failed to start admin API", "error", err)
	}

	sugar.Infow("exited gracefully")
}

