package daemon

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koromind/koro/internal/config"
	"github.com/koromind/koro/internal/logger"
	"github.com/koromind/koro/internal/metrics"
	"github.com/koromind/koro/pkg/approval"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func TestLifecycle_PIDFile(t *testing.T) {
	dataDir := t.TempDir()
	d := &Daemon{
		config: &config.Config{DataDir: dataDir},
		logger: newTestLogger(t),
	}
	lifecycle := NewLifecycleManager(d)

	require.NoError(t, lifecycle.Start())

	pid, err := ReadPID(dataDir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsRunning(dataDir))

	require.NoError(t, lifecycle.Stop())
	_, err = ReadPID(dataDir)
	assert.Error(t, err)
	assert.False(t, IsRunning(dataDir))
}

func TestIsRunning_DetectsLiveProcess(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(PIDFilePath(dataDir), []byte(strconv.Itoa(os.Getpid())), 0o644))

	assert.True(t, IsRunning(dataDir), "a live PID must be reported as running")
}

func TestIsRunning_FalseForGarbagePIDFile(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(PIDFilePath(dataDir), []byte("not-a-pid"), 0o644))

	assert.False(t, IsRunning(dataDir))
}

func TestLifecycle_StopWithoutStartIsFine(t *testing.T) {
	d := &Daemon{
		config: &config.Config{DataDir: t.TempDir()},
		logger: newTestLogger(t),
	}
	assert.NoError(t, NewLifecycleManager(d).Stop())
}

func TestSweepApprovals_RemovesStaleAndUpdatesGauge(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	approvals := approval.NewCoordinator(
		approval.WithClock(clock),
		approval.WithTimeout(time.Second),
		approval.WithGraceWindow(time.Second),
	)
	d := &Daemon{
		approvals: approvals,
		metrics:   metrics.New(),
		logger:    newTestLogger(t),
	}

	handle, err := approvals.Submit("Bash", map[string]interface{}{"command": "ls"}, "u1")
	require.NoError(t, err)
	require.True(t, approvals.Resolve(handle.ID, true, "u1"))

	// Not stale yet.
	d.sweepApprovals()
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.ApprovalsPending))

	now = now.Add(5 * time.Second)
	d.sweepApprovals()
	assert.Equal(t, 0.0, testutil.ToFloat64(d.metrics.ApprovalsPending))
}

type fakeVoiceEngine struct {
	transcribeErr error
	synthesizeErr error
}

func (f *fakeVoiceEngine) Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error) {
	return "hello", f.transcribeErr
}

func (f *fakeVoiceEngine) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	return []byte("mp3"), f.synthesizeErr
}

func TestInstrumentedVoice_CountsCalls(t *testing.T) {
	m := metrics.New()
	engine := newInstrumentedVoice(&fakeVoiceEngine{synthesizeErr: assert.AnError}, m)

	text, err := engine.Transcribe(context.Background(), []byte("ogg"), "en")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = engine.Synthesize(context.Background(), "hello", 1.0)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VoiceCallsTotal.WithLabelValues("transcribe", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VoiceCallsTotal.WithLabelValues("synthesize", "error")))
}

func TestStatus_NotRunning(t *testing.T) {
	d := &Daemon{}
	status := d.Status()
	assert.False(t, status.Running)
	assert.Zero(t, status.Uptime)
}
