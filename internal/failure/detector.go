// Package failure watches cross-component health signals, classifies each
// component as Healthy, Degraded or Fatal, and interlocks live trading while
// any dependency is Fatal so a broken feed can never cause blind trading.
package failure

import (
	"context"
	"sync"
	"time"

	"strikePilot/internal/observ"
	"strikePilot/internal/ports"
)

// State is the health classification of one monitored component.
type State string

const (
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateFatal    State = "fatal"
)

func (s State) gaugeValue() float64 {
	switch s {
	case StateDegraded:
		return 1
	case StateFatal:
		return 2
	default:
		return 0
	}
}

// Config holds configuration for the detector.
type Config struct {
	DegradedAfter time.Duration // Heartbeat age before a component degrades
	FatalAfter    time.Duration // Heartbeat age before a component is fatal
	ErrorBurst    int           // Consecutive reported errors before degrading
	SweepInterval time.Duration // How often heartbeat ages are evaluated
}

type componentState struct {
	state             State
	lastBeat          time.Time
	consecutiveErrors int
	restartRequested  bool
	lastError         error
}

// Detector tracks component heartbeats and drives the live-trading
// interlock. It implements ports.HealthReporter; every method is
// non-blocking and safe for concurrent use.
type Detector struct {
	cfg     Config
	logger  ports.Logger
	procSup ports.ProcessSupervisor

	mu         sync.Mutex
	components map[string]*componentState
}

// New creates a detector. procSup may be nil when no external process
// supervisor is available; fatal conditions are then logged only.
func New(cfg Config, logger ports.Logger, procSup ports.ProcessSupervisor) *Detector {
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 5 * time.Second
	}
	if cfg.FatalAfter <= cfg.DegradedAfter {
		cfg.FatalAfter = cfg.DegradedAfter * 6
	}
	if cfg.ErrorBurst <= 0 {
		cfg.ErrorBurst = 5
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return &Detector{
		cfg:        cfg,
		logger:     logger,
		procSup:    procSup,
		components: make(map[string]*componentState),
	}
}

// Register pre-seeds a component as Healthy so a component that never beats
// at all is still caught by the sweep.
func (d *Detector) Register(component string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.components[component]; !ok {
		d.components[component] = &componentState{state: StateHealthy, lastBeat: time.Now()}
		observ.ComponentHealth.WithLabelValues(component).Set(0)
	}
}

// Beat records a successful liveness signal and recovers the component.
func (d *Detector) Beat(component string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs := d.component(component)
	cs.lastBeat = time.Now()
	cs.consecutiveErrors = 0
	if cs.state != StateHealthy {
		d.setStateLocked(component, cs, StateHealthy)
		cs.restartRequested = false
	}
}

// ReportError records a recoverable error; a burst of them degrades the
// component without waiting for the heartbeat to age out.
func (d *Detector) ReportError(component string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs := d.component(component)
	cs.consecutiveErrors++
	cs.lastError = err
	if cs.state == StateHealthy && cs.consecutiveErrors >= d.cfg.ErrorBurst {
		d.setStateLocked(component, cs, StateDegraded)
	}
}

// ReportFatal marks the component Fatal immediately and requests a restart.
func (d *Detector) ReportFatal(component string, err error) {
	d.mu.Lock()
	cs := d.component(component)
	cs.lastError = err
	if cs.state != StateFatal {
		d.setStateLocked(component, cs, StateFatal)
	}
	shouldRestart := !cs.restartRequested
	cs.restartRequested = true
	d.mu.Unlock()

	if shouldRestart {
		d.requestRestart(component, err)
	}
}

// LiveAllowed reports whether live trade submission is currently permitted:
// no monitored component may be Fatal.
func (d *Detector) LiveAllowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cs := range d.components {
		if cs.state == StateFatal {
			return false
		}
	}
	return true
}

// StateOf returns the current classification of a component.
func (d *Detector) StateOf(component string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cs, ok := d.components[component]; ok {
		return cs.state
	}
	return StateHealthy
}

// Run sweeps heartbeat ages until the context is canceled.
func (d *Detector) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sweep()
		}
	}
}

// sweep escalates components whose heartbeat has aged past the thresholds.
func (d *Detector) sweep() {
	now := time.Now()
	var restarts []string

	d.mu.Lock()
	for name, cs := range d.components {
		age := now.Sub(cs.lastBeat)
		switch {
		case age >= d.cfg.FatalAfter:
			if cs.state != StateFatal {
				d.setStateLocked(name, cs, StateFatal)
			}
			if !cs.restartRequested {
				cs.restartRequested = true
				restarts = append(restarts, name)
			}
		case age >= d.cfg.DegradedAfter:
			if cs.state == StateHealthy {
				d.setStateLocked(name, cs, StateDegraded)
			}
		}
	}
	d.mu.Unlock()

	for _, name := range restarts {
		d.requestRestart(name, nil)
	}
}

// component returns the tracked state, creating it on first use.
// Callers hold d.mu.
func (d *Detector) component(name string) *componentState {
	cs, ok := d.components[name]
	if !ok {
		cs = &componentState{state: StateHealthy, lastBeat: time.Now()}
		d.components[name] = cs
	}
	return cs
}

// setStateLocked transitions a component and records the change.
// Callers hold d.mu.
func (d *Detector) setStateLocked(name string, cs *componentState, next State) {
	prev := cs.state
	cs.state = next
	observ.ComponentHealth.WithLabelValues(name).Set(next.gaugeValue())

	fields := map[string]interface{}{"component": name, "from": string(prev), "to": string(next)}
	if cs.lastError != nil {
		fields["lastError"] = cs.lastError.Error()
	}
	switch next {
	case StateHealthy:
		d.logger.Info(context.Background(), "Component recovered", fields)
	case StateDegraded:
		d.logger.Warn(context.Background(), "Component degraded", fields)
	case StateFatal:
		d.logger.Error(context.Background(), cs.lastError, "Component fatal, live trading interlocked", fields)
	}
}

// requestRestart asks the external process supervisor to restart the
// component. Failures are logged; the interlock already protects trading.
func (d *Detector) requestRestart(component string, cause error) {
	if d.procSup == nil {
		d.logger.Warn(context.Background(), "No process supervisor configured, restart not requested",
			map[string]interface{}{"component": component})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.procSup.Restart(ctx, component); err != nil {
		d.logger.Error(ctx, err, "Restart request failed", map[string]interface{}{"component": component})
		return
	}
	fields := map[string]interface{}{"component": component}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	d.logger.Warn(ctx, "Restart requested", fields)
}
