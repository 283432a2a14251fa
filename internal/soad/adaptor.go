package soad

// Adaptor is the Socket Adaptor: the stateful multiplexer between a PDU
// router and a TCP/UDP transport. It is single-threaded cooperative --
// none of its methods spawn goroutines, and the host must serialize calls
// across the tick, upper-layer, and transport-callback contexts (no
// re-entry). See package doc.
type Adaptor struct {
	reg  *Registry
	grps []grpStatus
	conns []conStatus

	transport Transport
	errs      ErrorReporter
	metrics   MetricsReporter

	// raceGuard, when non-nil, is armed on entry to MainFunction,
	// IfTransmit, TpTransmit, RxIndication, TcpAccepted, TcpConnected and
	// TcpIPEvent and disarmed on exit; a method observing it already armed means a
	// caller violated the no-re-entry contract. Off by default: the field
	// is only set by WithRaceGuard, intended for tests and debug builds.
	raceGuard *bool
}

// Option configures an Adaptor at construction time.
type Option func(*Adaptor)

// WithErrorReporter installs a development-error sink. Without this
// option, development errors are silently dropped.
func WithErrorReporter(r ErrorReporter) Option {
	return func(a *Adaptor) {
		if r != nil {
			a.errs = r
		}
	}
}

// WithMetrics installs a metrics sink. Without this option, metrics
// calls are silently dropped.
func WithMetrics(m MetricsReporter) Option {
	return func(a *Adaptor) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithRaceGuard enables the debug-only re-entrancy assertion described on
// the raceGuard field. Intended for tests exercising the single-threaded
// cooperative contract, never for production builds.
func WithRaceGuard() Option {
	return func(a *Adaptor) { a.raceGuard = new(bool) }
}

// New constructs an Adaptor bound to transport. Init must be called
// before any other method.
func New(transport Transport, opts ...Option) *Adaptor {
	a := &Adaptor{
		transport: transport,
		errs:      noopErrorReporter{},
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init installs reg as the adaptor's configuration, resets every
// per-connection and per-group status, and forces every connection into
// OFFLINE. Safe to call again to reconfigure from a clean slate; the
// adaptor must not be mid-tick when this happens (host's responsibility).
func (a *Adaptor) Init(reg *Registry) error {
	if reg == nil {
		a.reportDevError("Init", DevErrorInvalidArgument)
		return ErrNotInitialized
	}

	a.reg = reg
	a.grps = make([]grpStatus, reg.NumGroups())
	a.conns = make([]conStatus, reg.NumConns())

	for i := range a.grps {
		a.grps[i].reset()
	}
	for i := range a.conns {
		a.conns[i].reset(reg.Conn(SoConID(i)))
		a.enterOffline(SoConID(i))
	}

	return nil
}

func (a *Adaptor) initialized() bool { return a.reg != nil }

func (a *Adaptor) reportDevError(api string, kind DevErrorKind) {
	a.errs.ReportError(api, kind)
}

func (a *Adaptor) lockReentrancy(api string) func() {
	if a.raceGuard == nil {
		return func() {}
	}
	if *a.raceGuard {
		panic("soad: re-entrant call detected in " + api)
	}
	*a.raceGuard = true
	return func() { *a.raceGuard = false }
}

// validConn reports whether id names a configured connection.
func (a *Adaptor) validConn(id SoConID) bool {
	return id >= 0 && int(id) < len(a.conns)
}

// validGroup reports whether id names a configured group.
func (a *Adaptor) validGroup(id SoGrpID) bool {
	return id >= 0 && int(id) < len(a.grps)
}
