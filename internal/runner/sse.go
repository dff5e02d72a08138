package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

// SSEEndpointResolver builds the proxy URL and request body for a session,
// letting a caller target different backend deployments per agent type.
type SSEEndpointResolver interface {
	Resolve(session Session) (url string, body []byte, err error)
}

// SSERunner proxies an agent backend that speaks HTTP Server-Sent Events
// instead of talking over a local process's stdio (spec §6.3, §9: "model as
// a pull-based iterator over lines"). Each event frame is two lines —
// `event: <name>` followed by `data: <json>` — and the runner pulls them
// with a plain bufio.Scanner rather than a push-based SSE client library,
// so the same line-level backpressure the subprocess runner gets comes for
// free.
type SSERunner struct {
	client   *http.Client
	resolver SSEEndpointResolver
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sseSession
}

type sseSession struct {
	observers     map[Observer]struct{}
	status        domain.AgentStatus
	cancel        context.CancelFunc
	baseURL       string
	pythonAgentID string
}

// NewSSERunner constructs an SSERunner using client to issue the proxy
// request and resolver to build each session's endpoint.
func NewSSERunner(client *http.Client, resolver SSEEndpointResolver, logger *zap.Logger) *SSERunner {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSERunner{
		client:   client,
		resolver: resolver,
		logger:   logger,
		sessions: make(map[string]*sseSession),
	}
}

func (r *SSERunner) Start(ctx context.Context, session Session) error {
	url, body, err := r.resolver.Resolve(session)
	if err != nil {
		return fmt.Errorf("resolve sse endpoint for agent %s: %w", session.AgentID, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &sseSession{observers: make(map[Observer]struct{}), status: domain.AgentStatusRunning, cancel: cancel}

	r.mu.Lock()
	if existing, ok := r.sessions[session.AgentID]; ok {
		sess.observers = existing.observers
	}
	r.sessions[session.AgentID] = sess
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(runCtx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		cancel()
		return fmt.Errorf("build sse proxy request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open sse proxy stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("sse proxy returned status %d", resp.StatusCode)
	}

	// The proxy mints its own id for the upstream CLI process and reports it
	// back on the stream response (spec §4.3 variant 2, §6.3); Stop needs it
	// to tell the proxy which process to kill.
	pythonAgentID := resp.Header.Get("X-Agent-Id")

	r.mu.Lock()
	if sess, ok := r.sessions[session.AgentID]; ok {
		sess.baseURL = url
		sess.pythonAgentID = pythonAgentID
	}
	r.mu.Unlock()

	r.notifyStatus(runCtx, session.AgentID, domain.AgentStatusRunning)
	go r.consume(runCtx, session.AgentID, resp.Body)
	return nil
}

// consume pulls the response body one line at a time, reassembling
// `event:`/`data:` pairs and dropping anything that is pure framing (blank
// keep-alive lines, comments starting with ":").
func (r *SSERunner) consume(ctx context.Context, agentID string, body io.ReadCloser) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
			continue
		case strings.HasPrefix(line, ":"):
			continue
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			r.handleFrame(ctx, agentID, event, data)
		}
	}

	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	if ok && sess.status == domain.AgentStatusRunning {
		sess.status = domain.AgentStatusCompleted
	}
	r.mu.Unlock()
}

func (r *SSERunner) handleFrame(ctx context.Context, agentID, event, data string) {
	switch event {
	case "message":
		var payload struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content any    `json:"content"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Type == "" {
			// Framing-only or malformed frame: drop silently.
			return
		}
		r.notifyMessage(ctx, agentID, domain.NewMessageDto{
			AgentID: agentID,
			Type:    domain.MessageType(payload.Type),
			Role:    payload.Role,
			Content: payload.Content,
			Raw:     data,
		})
	case "complete":
		var result CompleteResult
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return
		}
		r.mu.Lock()
		if sess, ok := r.sessions[agentID]; ok {
			sess.status = domain.AgentStatusCompleted
		}
		r.mu.Unlock()
		r.notifyStatus(ctx, agentID, domain.AgentStatusCompleted)
		r.notifyComplete(ctx, agentID, result)
	case "error":
		var errEvent BackendErrorEvent
		if err := json.Unmarshal([]byte(data), &errEvent); err != nil {
			return
		}
		r.mu.Lock()
		if sess, ok := r.sessions[agentID]; ok {
			sess.status = domain.AgentStatusFailed
		}
		r.mu.Unlock()
		r.notifyError(ctx, agentID, errEvent)
		if errEvent.Fatal {
			r.notifyStatus(ctx, agentID, domain.AgentStatusFailed)
			r.notifyComplete(ctx, agentID, CompleteResult{Status: "failed"})
		}
	default:
		// Unrecognized or framing-only event: drop silently.
	}
}

// Stop marks the session terminated, cancels the local read loop, and — when
// the proxy reported an X-Agent-Id for the upstream CLI process — tells the
// proxy to stop it too (spec §4.3 variant 2, §6.3), so terminating an
// SSE-backed agent doesn't leave the upstream process running.
func (r *SSERunner) Stop(ctx context.Context, agentID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[agentID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	sess.status = domain.AgentStatusTerminated
	if sess.cancel != nil {
		sess.cancel()
	}
	baseURL, pythonAgentID := sess.baseURL, sess.pythonAgentID
	r.mu.Unlock()

	if pythonAgentID == "" {
		return nil
	}
	return r.stopUpstream(ctx, baseURL, pythonAgentID)
}

func (r *SSERunner) stopUpstream(ctx context.Context, baseURL, pythonAgentID string) error {
	stopURL, err := stopURLFor(baseURL, pythonAgentID)
	if err != nil {
		r.logger.Error("build sse proxy stop url", zap.Error(err), zap.String("pythonAgentId", pythonAgentID))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, stopURL, nil)
	if err != nil {
		r.logger.Error("build sse proxy stop request", zap.Error(err), zap.String("pythonAgentId", pythonAgentID))
		return nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("post sse proxy stop", zap.Error(err), zap.String("pythonAgentId", pythonAgentID))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		r.logger.Error("sse proxy stop returned error status",
			zap.Int("status", resp.StatusCode), zap.String("pythonAgentId", pythonAgentID))
	}
	return nil
}

// stopURLFor rewrites the proxy's stream endpoint into its stop endpoint,
// keeping the same scheme/host and replacing the path with
// /agent/stop/:pythonAgentId (spec §6.3).
func stopURLFor(baseURL, pythonAgentID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse sse proxy base url: %w", err)
	}
	u.Path = path.Join("/agent/stop", pythonAgentID)
	u.RawQuery = ""
	return u.String(), nil
}

// sessionPythonAgentID reports the upstream process id captured from the
// proxy's X-Agent-Id response header, if any.
func (r *SSERunner) sessionPythonAgentID(agentID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok || sess.pythonAgentID == "" {
		return "", false
	}
	return sess.pythonAgentID, true
}

func (r *SSERunner) GetStatus(agentID string) (domain.AgentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		return "", false
	}
	return sess.status, true
}

func (r *SSERunner) Subscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[agentID]
	if !ok {
		sess = &sseSession{observers: make(map[Observer]struct{}), status: domain.AgentStatusInitializing}
		r.sessions[agentID] = sess
	}
	sess.observers[observer] = struct{}{}
}

func (r *SSERunner) Unsubscribe(agentID string, observer Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[agentID]; ok {
		delete(sess.observers, observer)
	}
}

func (r *SSERunner) observersFor(agentID string) []Observer {
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

func (r *SSERunner) notifyMessage(ctx context.Context, agentID string, msg domain.NewMessageDto) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnMessage(ctx, msg) })
	}
}

func (r *SSERunner) notifyStatus(ctx context.Context, agentID string, status domain.AgentStatus) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnStatusChange(ctx, status) })
	}
}

func (r *SSERunner) notifyError(ctx context.Context, agentID string, event BackendErrorEvent) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnError(ctx, event) })
	}
}

func (r *SSERunner) notifyComplete(ctx context.Context, agentID string, result CompleteResult) {
	for _, obs := range r.observersFor(agentID) {
		r.safeNotify(func() { obs.OnComplete(ctx, result) })
	}
}

func (r *SSERunner) safeNotify(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("sse runner observer panicked", zap.Any("recover", rec))
		}
	}()
	fn()
}
