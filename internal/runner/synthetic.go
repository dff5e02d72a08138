package runner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

// ScriptedEvent is one entry of a synthetic session's pre-registered
// schedule (spec §4.3 variant 3 / §8 scenario 1): a deterministic test
// double that plays back a fixed sequence of events after a delay, with no
// real subprocess or network call involved.
type ScriptedEvent struct {
	DelayMS int
	Kind    string // "message", "status", "error", "complete"
	Message domain.NewMessageDto
	Status  domain.AgentStatus
	Error   BackendErrorEvent
	Result  CompleteResult
}

// SyntheticRunner plays back a fixed script of events per agent, used by
// tests that need deterministic, race-free orchestration behavior without a
// real backend.
type SyntheticRunner struct {
	logger *zap.Logger

	mu        sync.Mutex
	sessions  map[string]*syntheticSession
	schedules map[string][]ScriptedEvent
}

type syntheticSession struct {
	observers map[Observer]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	status    domain.AgentStatus
	// started is set once playback has actually begun. Playback is deferred
	// from Start until the first Subscribe so a DelayMS:0 scripted event can
	// never race ahead of the system observer attaching and get dropped.
	started bool
}

// NewSyntheticRunner constructs a SyntheticRunner. Register schedules with
// RegisterSchedule before calling Start for a given agent id.
func NewSyntheticRunner(logger *zap.Logger) *SyntheticRunner {
	return &SyntheticRunner{
		logger:    logger,
		sessions:  make(map[string]*syntheticSession),
		schedules: make(map[string][]ScriptedEvent),
	}
}

// RegisterSchedule assigns the event schedule an agent id will play back.
// Playback doesn't begin until the first Subscribe for that agent (see
// Start), so RegisterSchedule may be called any time up to that point —
// before Start, between Start and the first Subscribe, or in either order
// relative to Start itself.
func (r *SyntheticRunner) RegisterSchedule(agentID string, schedule []ScriptedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[agentID] = schedule
}

// Start arms the session but does not begin playback immediately: the
// documented launch-then-subscribe ordering means a caller starting the
// runner and then attaching an observer must never lose an event scheduled
// with DelayMS 0, so playback is deferred until the first Subscribe call for
// this agent id (or begins right away here if observers are already
// attached, covering callers that subscribe before Start).
func (r *SyntheticRunner) Start(ctx context.Context, session Session) error {
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	sess, ok := r.sessions[session.AgentID]
	if !ok {
		sess = &syntheticSession{observers: make(map[Observer]struct{})}
		r.sessions[session.AgentID] = sess
	}
	sess.ctx = runCtx
	sess.cancel = cancel
	sess.status = domain.AgentStatusRunning
	sess.started = false
	hasObservers := len(sess.observers) > 0
	r.mu.Unlock()

	if hasObservers {
		r.beginPlayback(session.AgentID)
	}
	return nil
}

// beginPlayback launches the scripted playback goroutine exactly once per
// session, reading the schedule at launch time so a RegisterSchedule call
// made after Start still takes effect.
func (r *SyntheticRunner) beginPlayback(agentID string) {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	if !ok || sess.started || sess.cancel == nil {
		r.mu.Unlock()
		return
	}
	sess.started = true
	runCtx := sess.ctx
	schedule := r.schedules[agentID]
	r.mu.Unlock()

	go r.play(runCtx, agentID, schedule)
}

func (r *SyntheticRunner) play(ctx context.Context, agentID string, schedule []ScriptedEvent) {
	for _, ev := range schedule {
		if ev.DelayMS > 0 {
			timer := time.NewTimer(time.Duration(ev.DelayMS) * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.deliver(ctx, agentID, ev)
	}
}

// deliver fans one scripted event out to every subscribed observer,
// recovering from any panic so one misbehaving observer never stops
// delivery to the rest (spec §4.3).
func (r *SyntheticRunner) deliver(ctx context.Context, agentID string, ev ScriptedEvent) {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	if !ok {
		r.mu.Unlock()
		return
	}
	observers := make([]Observer, 0, len(sess.observers))
	for obs := range sess.observers {
		observers = append(observers, obs)
	}
	if ev.Kind == "status" {
		sess.status = ev.Status
	}
	r.mu.Unlock()

	for _, obs := range observers {
		r.notify(ctx, obs, ev)
	}
}

func (r *SyntheticRunner) notify(ctx context.Context, obs Observer, ev ScriptedEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("synthetic runner observer panicked", zap.Any("recover", rec), zap.String("kind", ev.Kind))
		}
	}()

	switch ev.Kind {
	case "message":
		obs.OnMessage(ctx, ev.Message)
	case "status":
		obs.OnStatusChange(ctx, ev.Status)
	case "error":
		obs.OnError(ctx, ev.Error)
	case "complete":
		obs.OnComplete(ctx, ev.Result)
	}
}

func (r *SyntheticRunner) Stop(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		return nil
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.status = domain.AgentStatusTerminated
	return nil
}

func (r *SyntheticRunner) GetStatus(agentID string) (domain.AgentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		return "", false
	}
	return sess.status, true
}

func (r *SyntheticRunner) Subscribe(agentID string, observer Observer) {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	if !ok {
		sess = &syntheticSession{observers: make(map[Observer]struct{}), status: domain.AgentStatusInitializing}
		r.sessions[agentID] = sess
	}
	sess.observers[observer] = struct{}{}
	shouldStart := !sess.started && sess.cancel != nil
	r.mu.Unlock()

	if shouldStart {
		r.beginPlayback(agentID)
	}
}

func (r *SyntheticRunner) Unsubscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[agentID]; ok {
		delete(sess.observers, observer)
	}
}
