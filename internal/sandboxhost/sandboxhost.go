// Package sandboxhost launches one interpreter process per service
// invocation under a minimal capability profile and mediates a bounded,
// single-round JSON stdio protocol with it. A secondary execution engine,
// grounded on the embedded-JS "simulation mode" idea, runs the same
// contract in-process with goja when no real interpreter binary is
// configured (local development, unit tests).
package sandboxhost

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// Capabilities describes the capability profile requested for one run.
type Capabilities struct {
	// TimeoutMs is the caller-requested deadline; the effective deadline is
	// clamp(TimeoutMs, 100, 20000) ms, defaulting to 3000ms when zero.
	TimeoutMs int
	// Net, when non-empty, is the host allowlist passed to the child.
	// The subprocess engine strips wildcard entries ("*") and caps the list
	// at 5 entries when it builds the child's environment.
	Net []string
	// HasNpm widens the read capability to the interpreter's package cache.
	HasNpm bool
}

const (
	defaultTimeoutMs = 3000
	minTimeoutMs     = 100
	maxTimeoutMs     = 20000
	maxAllowedHosts  = 5
)

func effectiveDeadline(caps Capabilities) time.Duration {
	ms := caps.TimeoutMs
	if ms <= 0 {
		ms = defaultTimeoutMs
	}
	if ms < minTimeoutMs {
		ms = minTimeoutMs
	}
	if ms > maxTimeoutMs {
		ms = maxTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func filterAllowedHosts(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		if h == "" || h == "*" {
			continue
		}
		out = append(out, h)
		if len(out) == maxAllowedHosts {
			break
		}
	}
	return out
}

// Result is the classified outcome of one sandbox run.
type Result struct {
	OK    bool
	Value any
	Error string
}

// Mode selects which execution engine backs Run.
type Mode string

const (
	// ModeSubprocess launches a real OS child interpreter process per run.
	// This is the default and the only mode with a real capability
	// boundary.
	ModeSubprocess Mode = "subprocess"
	// ModeInprocess evaluates the bundle inside an embedded JS VM in the
	// same process. There is no process isolation in this mode; it exists
	// for local development and tests where no interpreter binary is
	// installed.
	ModeInprocess Mode = "inprocess"
)

// engine is the interface both execution backends satisfy, so the Host
// never has to know which one is active.
type engine interface {
	run(ctx context.Context, entry string, payload []byte, caps Capabilities) Result
}

// Host is the sandbox host's public entry point.
type Host struct {
	mode    Mode
	eng     engine
	limiter *rate.Limiter
	log     *logger.Logger
	audit   *auditor
}

// Config configures a Host.
type Config struct {
	Mode Mode
	// InterpreterPath is the absolute path to the child interpreter binary.
	// Required when Mode is ModeSubprocess.
	InterpreterPath string
	// MaxConcurrency sets a token-bucket rate limiter on run starts: at most
	// MaxConcurrency runs start per second, with bursts of MaxConcurrency.
	// It does not bound how many runs are in flight at once. Zero disables
	// the limiter.
	MaxConcurrency int
}

// New constructs a Host from cfg.
func New(cfg Config, log *logger.Logger) *Host {
	if log == nil {
		log = logger.NewDefault("sandboxhost")
	}

	var lim *rate.Limiter
	if cfg.MaxConcurrency > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.MaxConcurrency), cfg.MaxConcurrency)
	}

	var eng engine
	switch cfg.Mode {
	case ModeInprocess:
		eng = newInprocessEngine()
	default:
		eng = newSubprocessEngine(cfg.InterpreterPath)
	}

	return &Host{
		mode:    cfg.Mode,
		eng:     eng,
		limiter: lim,
		log:     log,
		audit:   newAuditor(),
	}
}

// Run launches entry with payload under caps and returns the classified
// result. Run never returns a Go error: spawn and IO failures are folded
// into Result.Error per the sandbox wire contract.
func (h *Host) Run(ctx context.Context, entry string, payload []byte, caps Capabilities) Result {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return Result{OK: false, Error: "sandbox at capacity: " + err.Error()}
		}
	}

	deadline := effectiveDeadline(caps)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	result := h.eng.run(runCtx, entry, payload, caps)
	duration := time.Since(start)

	h.audit.record(auditEvent{
		entry:    entry,
		mode:     string(h.mode),
		deadline: deadline,
		duration: duration,
		ok:       result.OK,
		errMsg:   result.Error,
	})

	return result
}
