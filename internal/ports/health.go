package ports

// HealthReporter receives liveness signals and error reports from pipeline
// components. Implementations classify the stream into health states and
// drive the live-trading interlock; reporting is always non-blocking.
type HealthReporter interface {
	// Beat records a successful liveness signal for the component.
	Beat(component string)
	// ReportError records a recoverable error for the component.
	ReportError(component string, err error)
	// ReportFatal records an error past the component's escalation
	// threshold; the reporter is expected to request a restart.
	ReportFatal(component string, err error)
}
