package failure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockProcSup implements ports.ProcessSupervisor, counting restart requests.
type mockProcSup struct {
	mu       sync.Mutex
	restarts []string
}

func (m *mockProcSup) Restart(ctx context.Context, component string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = append(m.restarts, component)
	return nil
}

func (m *mockProcSup) Health(ctx context.Context, component string) (string, error) {
	return "", nil
}

func (m *mockProcSup) restartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.restarts)
}

func newDetector(procSup *mockProcSup) *Detector {
	return New(Config{
		DegradedAfter: 30 * time.Millisecond,
		FatalAfter:    90 * time.Millisecond,
		ErrorBurst:    3,
		SweepInterval: 5 * time.Millisecond,
	}, &mockLogger{}, procSup)
}

func TestHeartbeatEscalation(t *testing.T) {
	procSup := &mockProcSup{}
	d := newDetector(procSup)
	d.Register("pipeline")

	assert.Equal(t, StateHealthy, d.StateOf("pipeline"))
	assert.True(t, d.LiveAllowed())

	// Let the heartbeat age past DegradedAfter, then sweep.
	time.Sleep(40 * time.Millisecond)
	d.sweep()
	assert.Equal(t, StateDegraded, d.StateOf("pipeline"))
	// Degraded does not flip the interlock.
	assert.True(t, d.LiveAllowed())
	assert.Equal(t, 0, procSup.restartCount())

	// Past FatalAfter the component is fatal and a restart is requested.
	time.Sleep(60 * time.Millisecond)
	d.sweep()
	assert.Equal(t, StateFatal, d.StateOf("pipeline"))
	assert.False(t, d.LiveAllowed())
	assert.Equal(t, 1, procSup.restartCount())

	// Further sweeps in the same outage do not re-request.
	d.sweep()
	d.sweep()
	assert.Equal(t, 1, procSup.restartCount())
}

func TestBeatRecoversComponent(t *testing.T) {
	procSup := &mockProcSup{}
	d := newDetector(procSup)
	d.Register("pipeline")

	time.Sleep(100 * time.Millisecond)
	d.sweep()
	require.Equal(t, StateFatal, d.StateOf("pipeline"))
	require.False(t, d.LiveAllowed())

	d.Beat("pipeline")
	assert.Equal(t, StateHealthy, d.StateOf("pipeline"))
	assert.True(t, d.LiveAllowed())

	// A new outage after recovery requests a restart again.
	time.Sleep(100 * time.Millisecond)
	d.sweep()
	assert.Equal(t, StateFatal, d.StateOf("pipeline"))
	assert.Equal(t, 2, procSup.restartCount())
}

func TestErrorBurstDegrades(t *testing.T) {
	d := newDetector(&mockProcSup{})
	d.Register("broker")

	err := errors.New("poll failed")
	d.ReportError("broker", err)
	d.ReportError("broker", err)
	assert.Equal(t, StateHealthy, d.StateOf("broker"))

	d.ReportError("broker", err)
	assert.Equal(t, StateDegraded, d.StateOf("broker"))
	assert.True(t, d.LiveAllowed())

	// A beat clears the burst counter and recovers.
	d.Beat("broker")
	assert.Equal(t, StateHealthy, d.StateOf("broker"))
	d.ReportError("broker", err)
	d.ReportError("broker", err)
	assert.Equal(t, StateHealthy, d.StateOf("broker"))
}

func TestReportFatal(t *testing.T) {
	procSup := &mockProcSup{}
	d := newDetector(procSup)
	d.Register("pipeline")
	d.Register("broker")

	d.ReportFatal("pipeline", errors.New("3 consecutive fetch failures"))
	assert.Equal(t, StateFatal, d.StateOf("pipeline"))
	assert.Equal(t, StateHealthy, d.StateOf("broker"))
	// One fatal component interlocks all live trading.
	assert.False(t, d.LiveAllowed())
	assert.Equal(t, 1, procSup.restartCount())

	// Repeated fatals in the same outage request exactly one restart.
	d.ReportFatal("pipeline", errors.New("still down"))
	assert.Equal(t, 1, procSup.restartCount())

	d.Beat("pipeline")
	assert.True(t, d.LiveAllowed())
}

func TestNilProcessSupervisor(t *testing.T) {
	d := New(Config{}, &mockLogger{}, nil)
	d.Register("pipeline")

	// Without a process supervisor the fatal path must not panic; the
	// interlock still engages.
	d.ReportFatal("pipeline", errors.New("down"))
	assert.False(t, d.LiveAllowed())
}

func TestUnknownComponentIsHealthy(t *testing.T) {
	d := newDetector(&mockProcSup{})
	assert.Equal(t, StateHealthy, d.StateOf("never-registered"))
	assert.True(t, d.LiveAllowed())
}

func TestRunSweeps(t *testing.T) {
	procSup := &mockProcSup{}
	d := newDetector(procSup)
	d.Register("pipeline")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// The background sweeps must have escalated the silent component.
	assert.Equal(t, StateFatal, d.StateOf("pipeline"))
	assert.Equal(t, 1, procSup.restartCount())
}
