package runner

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

// ContainerProfile describes how to run an agent type's CLI inside a
// short-lived container instead of a local os/exec process (SPEC_FULL.md
// Domain Stack: containerized variant of the subprocess runner).
type ContainerProfile struct {
	Image      string
	Entrypoint []string
	Env        []string
	Mounts     []ContainerMount
}

// ContainerMount is a host-path bind mount into the container.
type ContainerMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ProfileResolver maps an agent type to the container profile it runs
// under. A profile-less agent type is not eligible for the containerized
// path.
type ProfileResolver interface {
	ProfileFor(agentType domain.AgentType) (ContainerProfile, bool)
}

// ContainerRunner runs the agent CLI inside a Docker container, reusing the
// same stream-json line parser the local subprocess runner uses. It is
// skipped entirely (never registered) when no Docker socket is reachable;
// see NewContainerRunner.
type ContainerRunner struct {
	cli      *client.Client
	profiles ProfileResolver
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*containerSession
}

type containerSession struct {
	containerID string
	observers   map[Observer]struct{}
	status      domain.AgentStatus
	cancel      context.CancelFunc
}

// NewContainerRunner pings the Docker daemon at construction time and
// returns an error if it is unreachable, so callers can decide to skip
// registering this runner variant rather than fail every launch later.
func NewContainerRunner(ctx context.Context, profiles ProfileResolver, logger *zap.Logger) (*ContainerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return &ContainerRunner{
		cli:      cli,
		profiles: profiles,
		logger:   logger,
		sessions: make(map[string]*containerSession),
	}, nil
}

func (r *ContainerRunner) Start(ctx context.Context, session Session) error {
	profile, ok := r.profiles.ProfileFor(session.Type)
	if !ok {
		return fmt.Errorf("no container profile registered for agent type %s", session.Type)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	hostCfg := &containertypes.HostConfig{AutoRemove: true}
	for _, m := range profile.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, dockerMount(m))
	}

	containerCfg := &containertypes.Config{
		Image:        profile.Image,
		Cmd:          profile.Entrypoint,
		Env:          profile.Env,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}

	created, err := r.cli.ContainerCreate(runCtx, containerCfg, hostCfg, nil, nil, "agentcore-"+session.AgentID)
	if err != nil {
		cancel()
		return fmt.Errorf("create container for agent %s: %w", session.AgentID, err)
	}

	attach, err := r.cli.ContainerAttach(runCtx, created.ID, containertypes.AttachOptions{Stream: true, Stdout: true, Stderr: true})
	if err != nil {
		cancel()
		return fmt.Errorf("attach container for agent %s: %w", session.AgentID, err)
	}

	if err := r.cli.ContainerStart(runCtx, created.ID, containertypes.StartOptions{}); err != nil {
		attach.Close()
		cancel()
		return fmt.Errorf("start container for agent %s: %w", session.AgentID, err)
	}

	sess := &containerSession{containerID: created.ID, observers: make(map[Observer]struct{}), status: domain.AgentStatusRunning, cancel: cancel}
	r.mu.Lock()
	if existing, ok := r.sessions[session.AgentID]; ok {
		sess.observers = existing.observers
	}
	r.sessions[session.AgentID] = sess
	r.mu.Unlock()

	r.notifyStatus(runCtx, session.AgentID, domain.AgentStatusRunning)

	go func() {
		defer attach.Close()
		r.consume(runCtx, session.AgentID, attach.Reader)
	}()
	go r.waitExit(runCtx, session.AgentID, created.ID)

	return nil
}

// consume demultiplexes Docker's framed stdout/stderr stream (stream type
// byte, 3 reserved bytes, big-endian uint32 size, payload) and parses each
// resulting line with the same stream-json parser the local subprocess
// runner uses.
func (r *ContainerRunner) consume(ctx context.Context, agentID string, reader io.Reader) {
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		header := make([]byte, 8)
		for {
			if _, err := io.ReadFull(reader, header); err != nil {
				return
			}
			size := binary.BigEndian.Uint32(header[4:8])
			if size == 0 {
				continue
			}
			data := make([]byte, size)
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
			streamType := header[0]
			if streamType == 1 || streamType == 2 {
				if _, err := pw.Write(data); err != nil {
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parsed := parseStreamJSONLine(line)
		switch {
		case parsed.message != nil:
			parsed.message.AgentID = agentID
			r.notifyMessage(ctx, agentID, *parsed.message)
		case parsed.errEvent != nil:
			r.notifyError(ctx, agentID, *parsed.errEvent)
		case parsed.complete != nil:
			r.notifyComplete(ctx, agentID, *parsed.complete)
		default:
			// Framing-only line, drop silently.
		}
	}
}

func (r *ContainerRunner) waitExit(ctx context.Context, agentID, containerID string) {
	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, containertypes.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			r.logger.Warn("error waiting for agent container", zap.String("agent_id", agentID), zap.Error(err))
		}
	case result := <-statusCh:
		exitCode = result.StatusCode
	case <-ctx.Done():
		return
	}

	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	if ok && sess.status != domain.AgentStatusTerminated {
		if exitCode == 0 {
			sess.status = domain.AgentStatusCompleted
		} else {
			sess.status = domain.AgentStatusFailed
		}
	}
	var status domain.AgentStatus
	if ok {
		status = sess.status
	}
	r.mu.Unlock()

	r.notifyStatus(ctx, agentID, status)
	r.notifyComplete(ctx, agentID, CompleteResult{Status: completionStatus(status)})
}

func (r *ContainerRunner) Stop(ctx context.Context, agentID string) error {
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
	if sess.containerID != "" {
		if err := r.cli.ContainerStop(ctx, sess.containerID, containertypes.StopOptions{}); err != nil {
			r.logger.Warn("failed to stop agent container", zap.String("agent_id", agentID), zap.Error(err))
		}
	}
	return nil
}

func (r *ContainerRunner) GetStatus(agentID string) (domain.AgentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		return "", false
	}
	return sess.status, true
}

func (r *ContainerRunner) Subscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		sess = &containerSession{observers: make(map[Observer]struct{}), status: domain.AgentStatusInitializing}
		r.sessions[agentID] = sess
	}
	sess.observers[observer] = struct{}{}
}

func (r *ContainerRunner) Unsubscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[agentID]; ok {
		delete(sess.observers, observer)
	}
}

func (r *ContainerRunner) observersFor(agentID string) []Observer {
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

func (r *ContainerRunner) notifyMessage(ctx context.Context, agentID string, msg domain.NewMessageDto) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnMessage(ctx, msg) })
	}
}

func (r *ContainerRunner) notifyStatus(ctx context.Context, agentID string, status domain.AgentStatus) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnStatusChange(ctx, status) })
	}
}

func (r *ContainerRunner) notifyError(ctx context.Context, agentID string, event BackendErrorEvent) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnError(ctx, event) })
	}
}

func (r *ContainerRunner) notifyComplete(ctx context.Context, agentID string, result CompleteResult) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnComplete(ctx, result) })
	}
}

func (r *ContainerRunner) safeNotify(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("container runner observer panicked", zap.Any("recover", rec))
		}
	}()
	fn()
}

func dockerMount(m ContainerMount) mount.Mount {
	return mount.Mount{
		Type:     mount.TypeBind,
		Source:   m.Source,
		Target:   m.Target,
		ReadOnly: m.ReadOnly,
	}
}
