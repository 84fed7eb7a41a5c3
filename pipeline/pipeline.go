// Package pipeline composes the routing engine, dedup cache, priority
// scheduler, rate limiter, and tenant manager into the single inbound path
// every Request travels:
//
//	ingress -> Validator -> RateLimiter -> TenantQuota -> DedupCache (fast path)
//	        -> Scheduler (enqueue by priority+deadline) -> Router (score+budget)
//	        -> dispatch -> record -> DedupCache (record result) -> ack
//
// Submit runs the synchronous prefix (validate, rate limit, tenant quota,
// dedup fast path) and, on a cache miss, enqueues onto the Scheduler and
// blocks for a worker to finish the suspending half of the pipeline
// (routing, persistence, dispatch) and deliver the acknowledgment. Workers
// are started with RunWorkers and drain the Scheduler with its blocking
// Wait, matching the "parallel worker threads over a cooperative task
// runtime" execution model.
package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	aimesh "github.com/YASSERRMD/AiMesh"
	"github.com/YASSERRMD/AiMesh/dedup"
	"github.com/YASSERRMD/AiMesh/monitoring"
	"github.com/YASSERRMD/AiMesh/ratelimit"
	"github.com/YASSERRMD/AiMesh/router"
	"github.com/YASSERRMD/AiMesh/scheduler"
	"github.com/YASSERRMD/AiMesh/storage"
	"github.com/YASSERRMD/AiMesh/tenancy"
	"github.com/YASSERRMD/AiMesh/transport"
)

// DefaultSubmitTimeout bounds how long Submit waits for a worker to finish
// a scheduled request when the request itself carries no deadline.
const DefaultSubmitTimeout = 30 * time.Second

// Pipeline owns every subsystem collaborator and exposes Submit as the
// single ingress point a transport server or in-process caller drives per
// inbound Request.
type Pipeline struct {
	Router    *router.Router
	RateLimit *ratelimit.Limiter
	Dedup     *dedup.Cache
	Scheduler *scheduler.Scheduler
	Tenants   *tenancy.Manager
	Store     storage.Store
	Sender    transport.Sender
	Monitor   *monitoring.Monitor
	Logger    *zap.SugaredLogger

	messagesCollection string

	pendingMu sync.Mutex
	pending   map[string]chan *aimesh.Acknowledgment
}

// Config names the wiring the pipeline needs beyond its collaborators.
type Config struct {
	MessagesCollection string
}

// New composes a Pipeline from already-constructed collaborators. Monitor
// and Store may be nil; a nil Store skips durability, a nil Monitor skips
// metrics.
func New(cfg Config, r *router.Router, rl *ratelimit.Limiter, dc *dedup.Cache, sched *scheduler.Scheduler, tm *tenancy.Manager, store storage.Store, sender transport.Sender, monitor *monitoring.Monitor, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{
		Router:             r,
		RateLimit:          rl,
		Dedup:              dc,
		Scheduler:          sched,
		Tenants:            tm,
		Store:              store,
		Sender:             sender,
		Monitor:            monitor,
		Logger:             logger,
		messagesCollection: cfg.MessagesCollection,
		pending:            make(map[string]chan *aimesh.Acknowledgment),
	}
}

// Submit runs the non-suspending prefix of the pipeline synchronously and,
// on a dedup miss, schedules the request and blocks until a worker
// delivers its acknowledgment or the wait times out. It never returns a Go
// error: every failure mode becomes a failure Acknowledgment.
func (p *Pipeline) Submit(m *aimesh.Request) *aimesh.Acknowledgment {
	start := time.Now()
	if p.Monitor != nil {
		p.Monitor.RecordAccepted()
	}

	ack := p.submit(m, start)

	if p.Monitor != nil {
		p.Monitor.RecordOutcome(ack.IsSuccess(), ack.TokensUsed)
		p.Monitor.RecordEndToEndLatency(time.Since(start))
	}
	return ack
}

func (p *Pipeline) submit(m *aimesh.Request, start time.Time) *aimesh.Acknowledgment {
	nowMs := start.UnixMilli()

	if err := m.Validate(nowMs); err != nil {
		p.Logger.Warnw("request failed validation", "message_id", m.MessageID, "error", err)
		return aimesh.NewFailureAck(m.MessageID, err)
	}

	if err := p.RateLimit.Acquire(m.AgentID, 1); err != nil {
		p.Logger.Warnw("request rate limited", "message_id", m.MessageID, "agent_id", m.AgentID, "error", err)
		return aimesh.NewFailureAck(m.MessageID, err)
	}

	if tenantID, ok := p.Tenants.TenantForAgent(m.AgentID); ok {
		if err := p.Tenants.RecordMessage(tenantID, int64(m.EstimatedCostTokens)); err != nil {
			p.Logger.Warnw("tenant quota rejected request", "message_id", m.MessageID, "tenant_id", tenantID, "error", err)
			return aimesh.NewFailureAck(m.MessageID, err)
		}
	}

	fp := dedup.Fingerprint(m.Payload, m.DedupContext)
	if cached, hit := p.Dedup.CheckFingerprint(fp, start.Unix()); hit {
		latency := time.Since(start)
		p.Logger.Infow("dedup cache hit", "message_id", m.MessageID, "fingerprint", fp)
		return aimesh.NewSuccessAck(m.MessageID, 0, int32(latency.Milliseconds()), cached)
	}

	resultCh := make(chan *aimesh.Acknowledgment, 1)
	p.pendingMu.Lock()
	p.pending[m.MessageID] = resultCh
	p.pendingMu.Unlock()

	if err := p.Scheduler.Push(m); err != nil {
		p.pendingMu.Lock()
		delete(p.pending, m.MessageID)
		p.pendingMu.Unlock()
		p.Logger.Warnw("scheduler rejected request", "message_id", m.MessageID, "error", err)
		return aimesh.NewFailureAck(m.MessageID, err)
	}

	timeout := p.submitTimeout(m, start)
	select {
	case ack := <-resultCh:
		return ack
	case <-time.After(timeout):
		p.pendingMu.Lock()
		delete(p.pending, m.MessageID)
		p.pendingMu.Unlock()
		return aimesh.NewFailureAck(m.MessageID, &scheduler.QueueClosedError{})
	}
}

func (p *Pipeline) submitTimeout(m *aimesh.Request, start time.Time) time.Duration {
	if m.DeadlineMs == aimesh.NoDeadline || m.DeadlineMs == aimesh.MaxDeadline {
		return DefaultSubmitTimeout
	}
	remaining := time.Duration(m.DeadlineMs-start.UnixMilli()) * time.Millisecond
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// RunWorkers starts n goroutines draining the Scheduler, each executing the
// suspending half of the pipeline (routing, persistence, dispatch,
// recording) for every dequeued request, and returns once all of them have
// exited. A worker exits when the Scheduler is closed, or when stop has
// fired by the time it finishes a request; a worker blocked in Wait does not
// observe stop until Wait returns.
func (p *Pipeline) RunWorkers(n int, stop <-chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			p.runWorker(stop)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) runWorker(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		item, ok := p.Scheduler.Wait()
		if !ok {
			return
		}
		p.deliver(item.Request, p.dispatch(item.Request))
	}
}

func (p *Pipeline) deliver(m *aimesh.Request, ack *aimesh.Acknowledgment) {
	p.pendingMu.Lock()
	ch, ok := p.pending[m.MessageID]
	delete(p.pending, m.MessageID)
	p.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// dispatch runs the suspending half of the pipeline for a request already
// past validation, rate limiting, tenant accounting, and the dedup fast
// path: routing, persistence, dispatch, budget consumption, and the
// dedup record of the live result.
func (p *Pipeline) dispatch(m *aimesh.Request) *aimesh.Acknowledgment {
	start := time.Now()
	nowMs := start.UnixMilli()
	if m.IsExpired(nowMs) {
		p.Logger.Warnw("request expired before dispatch", "message_id", m.MessageID)
		return aimesh.NewFailureAck(m.MessageID, &aimesh.DeadlineExpiredError{DeadlineMs: m.DeadlineMs, CurrentMs: nowMs})
	}

	routeStart := time.Now()
	decision, err := p.Router.Route(m.MessageID, m.AgentID, m.EstimatedCostTokens)
	if err != nil {
		p.Logger.Warnw("routing failed", "message_id", m.MessageID, "agent_id", m.AgentID, "error", err)
		return aimesh.NewFailureAck(m.MessageID, err)
	}
	if p.Monitor != nil {
		p.Monitor.RecordRoutingDecision(decision.TargetEndpoint, time.Since(routeStart))
	}

	if p.Store != nil {
		if err := p.Store.WriteMessage(p.messagesCollection, m.MessageID, m.Payload); err != nil {
			p.Logger.Warnw("durable message write failed", "message_id", m.MessageID, "error", err)
		}
	}

	// The chosen endpoint ID doubles as its transport address; a
	// deployment that needs indirection resolves it upstream of the
	// registry.
	result, dispatchErr := p.Sender.Send(decision.TargetEndpoint, m.Payload)
	if dispatchErr != nil {
		p.Router.RecordEndpointFailure(decision.TargetEndpoint)
		p.writeTaskState(m.MessageID, decision.TargetEndpoint, "failed", 0, dispatchErr.Error())
		p.Logger.Warnw("dispatch failed", "message_id", m.MessageID, "endpoint_id", decision.TargetEndpoint, "error", dispatchErr)
		return aimesh.NewFailureAck(m.MessageID, dispatchErr)
	}
	p.Router.RecordEndpointSuccess(decision.TargetEndpoint, time.Now().UnixNano())

	fp := dedup.Fingerprint(m.Payload, m.DedupContext)
	p.Dedup.RecordFingerprint(fp, result, time.Now().Unix())
	p.writeTaskState(m.MessageID, decision.TargetEndpoint, "processed", decision.EstimatedCost, "")

	p.Router.ConsumeBudget(m.AgentID, decision.EstimatedCost)

	if p.Monitor != nil {
		p.Monitor.RecordCostCents(decision.EstimatedCost * 100)
	}

	latency := time.Since(start)
	return aimesh.NewSuccessAck(m.MessageID, decision.EstimatedCost, int32(latency.Milliseconds()), result)
}

func (p *Pipeline) writeTaskState(messageID, endpoint, status string, tokensUsed float64, errMsg string) {
	if p.Store == nil {
		return
	}
	state := storage.TaskState{
		MessageID:  messageID,
		Endpoint:   endpoint,
		Status:     status,
		TokensUsed: tokensUsed,
		Error:      errMsg,
	}
	if err := p.Store.WriteTaskState(p.messagesCollection, state); err != nil {
		p.Logger.Warnw("durable task state write failed", "message_id", messageID, "error", err)
	}
}
