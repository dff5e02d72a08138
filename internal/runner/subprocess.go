package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

const defaultOutputBufferSize = 500

// CommandBuilder turns a Session into the argv and environment a subprocess
// runner should spawn. Adapters for different CLI agents (claude-code,
// gemini-cli) implement this to translate domain.AgentConfig into
// command-line flags.
type CommandBuilder interface {
	Build(session Session) (argv []string, dir string, env []string, err error)
}

// SubprocessRunner spawns an agent CLI as a child process, parses its
// line-delimited stdout protocol, and fans parsed events out to observers
// (adapted from the teacher's process manager, with the ACP/JSON-RPC layer
// replaced by the stream-json line protocol spec §4.3 describes).
type SubprocessRunner struct {
	builder CommandBuilder
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*subprocessSession
}

type subprocessSession struct {
	cmd       *exec.Cmd
	buffer    *ringBuffer
	observers map[Observer]struct{}
	status    domain.AgentStatus
	cancel    context.CancelFunc
}

// NewSubprocessRunner constructs a SubprocessRunner using builder to derive
// each session's command line.
func NewSubprocessRunner(builder CommandBuilder, logger *zap.Logger) *SubprocessRunner {
	return &SubprocessRunner{
		builder:  builder,
		logger:   logger,
		sessions: make(map[string]*subprocessSession),
	}
}

func (r *SubprocessRunner) Start(ctx context.Context, session Session) error {
	argv, dir, env, err := r.builder.Build(session)
	if err != nil {
		return fmt.Errorf("build command for agent %s: %w", session.AgentID, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("no command configured for agent %s", session.AgentID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start agent process: %w", err)
	}

	sess := &subprocessSession{
		cmd:       cmd,
		buffer:    newRingBuffer(defaultOutputBufferSize),
		observers: make(map[Observer]struct{}),
		status:    domain.AgentStatusRunning,
		cancel:    cancel,
	}

	r.mu.Lock()
	if existing, ok := r.sessions[session.AgentID]; ok {
		sess.observers = existing.observers
	}
	r.sessions[session.AgentID] = sess
	r.mu.Unlock()

	r.notifyStatus(runCtx, session.AgentID, domain.AgentStatusRunning)

	go r.readStdout(runCtx, session.AgentID, stdout)
	go r.readStderr(session.AgentID, stderr)
	go r.wait(runCtx, session.AgentID)

	return nil
}

func (r *SubprocessRunner) readStdout(ctx context.Context, agentID string, reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.bufferLine(agentID, outputLine{Stream: "stdout", Content: line})

		parsed := parseStreamJSONLine(line)
		switch {
		case parsed.message != nil:
			parsed.message.AgentID = agentID
			r.notifyMessage(ctx, agentID, *parsed.message)
		case parsed.errEvent != nil:
			r.notifyError(ctx, agentID, *parsed.errEvent)
		case parsed.complete != nil:
			// Completion is reported once, by wait, when the process exits.
		default:
			// Framing-only line, drop silently.
		}
	}
}

func (r *SubprocessRunner) readStderr(agentID string, reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.bufferLine(agentID, outputLine{Stream: "stderr", Content: scanner.Text()})
	}
}

func (r *SubprocessRunner) bufferLine(agentID string, line outputLine) {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	r.mu.Unlock()
	if !ok {
		return
	}
	sess.buffer.add(line)
}

func (r *SubprocessRunner) wait(ctx context.Context, agentID string) {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	r.mu.Unlock()
	if !ok {
		return
	}

	err := sess.cmd.Wait()

	r.mu.Lock()
	if sess.status != domain.AgentStatusTerminated {
		if err != nil {
			sess.status = domain.AgentStatusFailed
		} else {
			sess.status = domain.AgentStatusCompleted
		}
	}
	status := sess.status
	r.mu.Unlock()

	r.notifyStatus(ctx, agentID, status)
	if status == domain.AgentStatusFailed {
		message := "agent process exited with an error"
		if err != nil {
			message = err.Error()
		}
		r.notifyError(ctx, agentID, BackendErrorEvent{Kind: "process_exit", Message: message, Fatal: true})
	}
	r.notifyComplete(ctx, agentID, CompleteResult{Status: completionStatus(status)})
}

func completionStatus(status domain.AgentStatus) string {
	if status == domain.AgentStatusCompleted {
		return "success"
	}
	return "failed"
}

func (r *SubprocessRunner) Stop(ctx context.Context, agentID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	sess.status = domain.AgentStatusTerminated
	r.mu.Unlock()

	sess.cancel()
	if sess.cmd.Process != nil {
		if err := sess.cmd.Process.Kill(); err != nil {
			r.logger.Warn("failed to kill agent process", zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return nil
}

func (r *SubprocessRunner) GetStatus(agentID string) (domain.AgentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		return "", false
	}
	return sess.status, true
}

func (r *SubprocessRunner) Subscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		sess = &subprocessSession{observers: make(map[Observer]struct{}), status: domain.AgentStatusInitializing}
		r.sessions[agentID] = sess
	}
	sess.observers[observer] = struct{}{}
}

func (r *SubprocessRunner) Unsubscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[agentID]; ok {
		delete(sess.observers, observer)
	}
}

func (r *SubprocessRunner) observersFor(agentID string) []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		return nil
	}
	observers := make([]Observer, 0, len(sess.observers))
	for obs := range sess.observers {
		observers = append(observers, obs)
	}
	return observers
}

func (r *SubprocessRunner) notifyMessage(ctx context.Context, agentID string, msg domain.NewMessageDto) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnMessage(ctx, msg) })
	}
}

func (r *SubprocessRunner) notifyStatus(ctx context.Context, agentID string, status domain.AgentStatus) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnStatusChange(ctx, status) })
	}
}

func (r *SubprocessRunner) notifyError(ctx context.Context, agentID string, event BackendErrorEvent) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnError(ctx, event) })
	}
}

func (r *SubprocessRunner) notifyComplete(ctx context.Context, agentID string, result CompleteResult) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnComplete(ctx, result) })
	}
}

// safeNotify recovers from a panicking observer so it never aborts delivery
// to the remaining observers (spec §4.3).
func (r *SubprocessRunner) safeNotify(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("runner observer panicked", zap.Any("recover", rec))
		}
	}()
	fn()
}
