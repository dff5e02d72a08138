// Package orchestrator composes the runner factory, launch queue,
// instruction handler, and storage into the launch/terminate use cases
// (spec §4.6). It holds the agentId → runner lookup table used solely for
// re-subscription; everything else about an agent's lifecycle is read back
// from storage.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
	"github.com/kandev/agentcore/internal/instructions"
	"github.com/kandev/agentcore/internal/queue"
	"github.com/kandev/agentcore/internal/runner"
	"github.com/kandev/agentcore/internal/store"
)

// tracer is a no-op unless the composition root installs a real
// TracerProvider (OTEL_EXPORTER_OTLP_ENDPOINT set), per spec §4.4/§4.8's
// "one root span per launch, child spans for instruction prep, repository
// save, and runner start".
var tracer = otel.Tracer("github.com/kandev/agentcore/internal/orchestrator")

// Broadcaster is the subset of the streaming broadcaster's surface the
// coordinator needs: a system-level observer it can register with a runner
// so that messages are persisted and status transitions are finalized even
// if zero clients are ever connected (spec §4.6 step 9). Defined locally
// rather than imported so that orchestrator and streaming can depend on
// each other's interfaces without an import cycle — streaming's concrete
// broadcaster satisfies this structurally.
type Broadcaster interface {
	// ObserverFor returns the singleton observer a runner should notify
	// for agentID, independent of any connected client.
	ObserverFor(agentID string) runner.Observer
}

// InstructionPaths resolves the user-level/project-level instruction file
// paths for a launch. Concrete wiring is config-driven (spec §6.6); tests
// supply a fixed pair.
type InstructionPaths interface {
	PathsFor(req domain.LaunchRequest) instructions.Paths
}

// Config bundles a Coordinator's collaborators.
type Config struct {
	Store        store.Store
	Runners      runner.Factory
	Queue        *queue.Queue
	Instructions *instructions.Handler
	Paths        InstructionPaths
	Broadcaster  Broadcaster
	Logger       *zap.Logger
	IDGenerator  func() string
}

// Coordinator implements the orchestration use cases from spec §4.6.
type Coordinator struct {
	store        store.Store
	runners      runner.Factory
	queue        *queue.Queue
	instructions *instructions.Handler
	paths        InstructionPaths
	broadcaster  Broadcaster
	logger       *zap.Logger
	newID        func() string

	mu        sync.Mutex
	byAgentID map[string]runner.Runner
	pending   map[string]chan struct{} // requestID -> closed once resolved
	results   map[string]launchOutcome
}

// launchOutcome is delivered to AwaitLaunch once processLaunch finishes the
// request, successfully or not.
type launchOutcome struct {
	agent *domain.Agent
	err   error
}

// New constructs a Coordinator and registers it as the queue's handler.
// Callers still must start cfg.Queue.Run in a goroutine.
func New(cfg Config) *Coordinator {
	newID := cfg.IDGenerator
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	c := &Coordinator{
		store:        cfg.Store,
		runners:      cfg.Runners,
		queue:        cfg.Queue,
		instructions: cfg.Instructions,
		paths:        cfg.Paths,
		broadcaster:  cfg.Broadcaster,
		logger:       cfg.Logger,
		newID:        newID,
		byAgentID:    make(map[string]runner.Runner),
		pending:      make(map[string]chan struct{}),
		results:      make(map[string]launchOutcome),
	}
	if cfg.Queue != nil {
		cfg.Queue.OnCancel = c.cancelLaunch
	}
	return c
}

// cancelLaunch resolves requestID's AwaitLaunch promise with a Cancelled
// error. Wired as the queue's OnCancel hook so a launch cancelled before the
// worker ever dequeues it doesn't leave the HTTP caller blocked in
// AwaitLaunch until its context times out (spec §4.4, §7).
func (c *Coordinator) cancelLaunch(requestID string) {
	c.resolveLaunch(requestID, nil, domain.NewCancelledError("launch request was cancelled before it started"))
}

// LaunchAgent enqueues a launch request and returns the request id the
// caller can use to poll the queue or cancel it. Execution happens
// asynchronously on the queue's single worker (spec §4.6: "called by the
// queue, not by clients").
func (c *Coordinator) LaunchAgent(ctx context.Context, req domain.LaunchRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	requestID := c.newID()
	if err := c.queue.Enqueue(requestID, req, req.Priority); err != nil {
		return "", err
	}
	return requestID, nil
}

// AwaitLaunch blocks until the queue has processed requestID, then returns
// the Agent step 11 of spec §4.6 hands back to the original enqueue caller
// ("enqueue(LaunchRequest) -> Agent"). HTTP handlers call LaunchAgent then
// AwaitLaunch so the request/response cycle observes the same synchronous
// contract the queue's internal worker does not need.
func (c *Coordinator) AwaitLaunch(ctx context.Context, requestID string) (*domain.Agent, error) {
	ch := c.doneChanFor(requestID)

	select {
	case <-ch:
		c.mu.Lock()
		outcome := c.results[requestID]
		delete(c.results, requestID)
		delete(c.pending, requestID)
		c.mu.Unlock()
		return outcome.agent, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doneChanFor returns the (possibly already-closed) completion channel for
// requestID, creating it if AwaitLaunch races resolveLaunch.
func (c *Coordinator) doneChanFor(requestID string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[requestID]
	if !ok {
		ch = make(chan struct{})
		c.pending[requestID] = ch
	}
	return ch
}

func (c *Coordinator) resolveLaunch(requestID string, agent *domain.Agent, err error) {
	ch := c.doneChanFor(requestID)
	c.mu.Lock()
	c.results[requestID] = launchOutcome{agent: agent, err: err}
	c.mu.Unlock()
	close(ch)
}

// processLaunch is the queue's Handler: it runs the eleven-step launch
// sequence from spec §4.6 for one dequeued request, then resolves the
// request's AwaitLaunch channel with the resulting Agent (step 11, "return
// the agent to the enqueue caller").
func (c *Coordinator) processLaunch(ctx context.Context, item queue.QueuedLaunch) error {
	agent, err := c.runLaunch(ctx, item.Request)
	c.resolveLaunch(item.RequestID, agent, err)
	return err
}

func (c *Coordinator) runLaunch(ctx context.Context, req domain.LaunchRequest) (*domain.Agent, error) {
	agentID := req.ID
	if agentID == "" {
		agentID = c.newID()
	}

	ctx, span := tracer.Start(ctx, "orchestrator.launch", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("agent.type", string(req.Type)),
	))
	defer span.End()

	// Step 1: back up and swap instruction files before anything else
	// touches shared filesystem state.
	_, prepSpan := tracer.Start(ctx, "orchestrator.prepare_instructions")
	paths := instructions.Paths{}
	if c.paths != nil {
		paths = c.paths.PathsFor(req)
	}
	backup, err := c.instructions.Prepare(ctx, paths, req.Instructions)
	prepSpan.End()
	if err != nil {
		return nil, fmt.Errorf("prepare instruction environment: %w", err)
	}
	// Step 10 happens on every exit path below, success or failure.
	defer c.instructions.Restore(ctx, backup)

	// Step 2: construct the Agent entity, INITIALIZING.
	agent := &domain.Agent{
		ID:            agentID,
		Type:          req.Type,
		Status:        domain.AgentStatusInitializing,
		Prompt:        req.Prompt,
		Configuration: req.AgentConfig,
		CreatedAt:     time.Now(),
	}

	// Step 3: persist BEFORE starting the runner. This is load-bearing: the
	// FK from messages to agents otherwise races the first emitted message.
	_, saveSpan := tracer.Start(ctx, "orchestrator.persist_agent")
	err = c.store.Agents().Save(ctx, agent)
	saveSpan.End()
	if err != nil {
		return nil, fmt.Errorf("persist agent before launch: %w", err)
	}

	// Step 4: obtain a runner from the factory keyed by agent type.
	rn, err := c.runners.RunnerFor(req.Type)
	if err != nil {
		return agent, fmt.Errorf("resolve runner for type %s: %w", req.Type, err)
	}

	// Step 5: build a Session carrying the coordinator-minted id.
	session := runner.Session{
		AgentID:       agentID,
		Type:          req.Type,
		Prompt:        req.Prompt,
		Configuration: req.AgentConfig,
	}

	// Step 6: start the runner.
	_, startSpan := tracer.Start(ctx, "orchestrator.start_runner")
	err = rn.Start(ctx, session)
	startSpan.End()
	if err != nil {
		return agent, fmt.Errorf("start runner for agent %s: %w", agentID, err)
	}

	// Step 7: mark RUNNING, save again.
	if err := agent.MarkAsRunning(time.Now()); err != nil {
		return agent, fmt.Errorf("mark agent %s running: %w", agentID, err)
	}
	if err := c.store.Agents().Save(ctx, agent); err != nil {
		return agent, fmt.Errorf("persist agent after start: %w", err)
	}

	// Step 8: register agentId -> runner in the lookup table.
	c.registerRunner(agentID, rn)

	// Step 9: register a system-level observer with the broadcaster so
	// messages are persisted and status finalized even with no clients.
	if c.broadcaster != nil {
		rn.Subscribe(agentID, c.broadcaster.ObserverFor(agentID))
	}

	// Step 10 (deferred above): restore instruction files now — the CLI
	// reads them at startup and caches the contents.
	// Step 11: return the agent to the enqueue caller (via AwaitLaunch).
	return agent, nil
}

// TerminateAgent finds the agent, asks its runner to stop (best effort),
// clears the runner lookup entry, and marks the agent TERMINATED. Terminate
// is authoritative: it always succeeds from RUNNING regardless of whether
// the backend cooperated (spec §4.6, §5).
func (c *Coordinator) TerminateAgent(ctx context.Context, agentID string) error {
	agent, err := c.store.Agents().FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return domain.NewNotFoundError("agent not found: " + agentID)
	}

	if rn, ok := c.getRunnerForAgent(agentID); ok {
		if err := rn.Stop(ctx, agentID); err != nil {
			c.logger.Warn("runner stop returned an error, proceeding with termination anyway",
				zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	c.clearRunner(agentID)

	if agent.Status.IsTerminal() {
		return nil
	}
	if err := agent.MarkAsTerminated(time.Now()); err != nil {
		return err
	}
	return c.store.Agents().Save(ctx, agent)
}

// DeleteAgent removes an agent (and, via CASCADE, its messages) from
// storage. Deleting a non-terminal agent requires force=true (spec §6.1/§7
// ConflictError "delete-while-running without force"); a forced delete
// stops the runner first the same way TerminateAgent does.
func (c *Coordinator) DeleteAgent(ctx context.Context, agentID string, force bool) error {
	agent, err := c.store.Agents().FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return domain.NewNotFoundError("agent not found: " + agentID)
	}

	if !agent.Status.IsTerminal() {
		if !force {
			return domain.NewConflictError("agent " + agentID + " is not in a terminal state; retry with force=true")
		}
		if rn, ok := c.getRunnerForAgent(agentID); ok {
			if err := rn.Stop(ctx, agentID); err != nil {
				c.logger.Warn("runner stop returned an error during forced delete",
					zap.String("agent_id", agentID), zap.Error(err))
			}
		}
		c.clearRunner(agentID)
	}

	return c.store.Agents().Delete(ctx, agentID)
}

// GetAgentStatus returns the persisted status for agentID.
func (c *Coordinator) GetAgentStatus(ctx context.Context, agentID string) (domain.AgentStatus, error) {
	agent, err := c.store.Agents().FindByID(ctx, agentID)
	if err != nil {
		return "", err
	}
	if agent == nil {
		return "", domain.NewNotFoundError("agent not found: " + agentID)
	}
	return agent.Status, nil
}

// GetAgentByID returns the persisted Agent snapshot for agentID.
func (c *Coordinator) GetAgentByID(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := c.store.Agents().FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, domain.NewNotFoundError("agent not found: " + agentID)
	}
	return agent, nil
}

// ListAll returns every persisted agent.
func (c *Coordinator) ListAll(ctx context.Context) ([]*domain.Agent, error) {
	return c.store.Agents().FindAll(ctx)
}

// ListActive returns agents whose status is not yet terminal.
func (c *Coordinator) ListActive(ctx context.Context) ([]*domain.Agent, error) {
	all, err := c.store.Agents().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*domain.Agent, 0, len(all))
	for _, agent := range all {
		if !agent.Status.IsTerminal() {
			active = append(active, agent)
		}
	}
	return active, nil
}

// GetRunnerForAgent looks up the runner currently registered for agentID,
// used by the subscription registry when a client subscribes.
func (c *Coordinator) GetRunnerForAgent(agentID string) (runner.Runner, bool) {
	return c.getRunnerForAgent(agentID)
}

// RegisterRunner registers a runner for an agent that was created outside
// the launch path (synthetic agents spun up directly by tests or tools).
func (c *Coordinator) RegisterRunner(agentID string, rn runner.Runner) {
	c.registerRunner(agentID, rn)
}

func (c *Coordinator) getRunnerForAgent(agentID string) (runner.Runner, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rn, ok := c.byAgentID[agentID]
	return rn, ok
}

func (c *Coordinator) registerRunner(agentID string, rn runner.Runner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byAgentID[agentID] = rn
}

func (c *Coordinator) clearRunner(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byAgentID, agentID)
}

// Run starts the coordinator's queue worker. It blocks until ctx is
// cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.queue.Run(ctx, c.processLaunch)
}
