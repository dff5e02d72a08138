package runner

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/domain"
)

func dockerFrame(streamType byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = streamType
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	return append(header, []byte(payload)...)
}

func TestContainerRunnerConsumeDemultiplexesAndParses(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(dockerFrame(1, "{\"type\":\"assistant\",\"role\":\"assistant\",\"content\":\"hi\"}\n"))
	buf.Write(dockerFrame(2, "warning: ignored stderr noise\n"))
	buf.Write(dockerFrame(1, "{\"type\":\"result\",\"is_error\":false,\"duration_ms\":4,\"num_turns\":1}\n"))

	r := &ContainerRunner{logger: zap.NewNop(), sessions: make(map[string]*containerSession)}
	obs := &recordingObserver{}
	r.Subscribe("agent-1", obs)

	r.consume(context.Background(), "agent-1", &buf)

	messages, _, _, completes := obs.count()
	require.Equal(t, 1, messages)
	require.Equal(t, 1, completes)
}

func TestDockerMountTranslation(t *testing.T) {
	m := dockerMount(ContainerMount{Source: "/host", Target: "/container", ReadOnly: true})
	require.Equal(t, mount.TypeBind, m.Type)
	require.Equal(t, "/host", m.Source)
	require.Equal(t, "/container", m.Target)
	require.True(t, m.ReadOnly)
}

func TestContainerRunnerStatusLifecycle(t *testing.T) {
	r := &ContainerRunner{logger: zap.NewNop(), sessions: make(map[string]*containerSession)}
	r.sessions["agent-1"] = &containerSession{status: domain.AgentStatusRunning, observers: make(map[Observer]struct{}), cancel: func() {}}

	status, ok := r.GetStatus("agent-1")
	require.True(t, ok)
	require.Equal(t, domain.AgentStatusRunning, status)

	require.NoError(t, r.Stop(context.Background(), "agent-1"))
	status, ok = r.GetStatus("agent-1")
	require.True(t, ok)
	require.Equal(t, domain.AgentStatusTerminated, status)
}
