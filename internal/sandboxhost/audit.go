package sandboxhost

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// auditEvent is one sandbox run's structured execution record. It is kept
// separate from the core's logrus-based operational logging: this is a
// high-volume, machine-read audit trail, not a human-facing log stream.
type auditEvent struct {
	entry    string
	mode     string
	deadline time.Duration
	duration time.Duration
	ok       bool
	errMsg   string
}

// auditor emits one zerolog event per sandbox invocation.
type auditor struct {
	log zerolog.Logger
}

func newAuditor() *auditor {
	return &auditor{
		log: zerolog.New(os.Stdout).With().Timestamp().Str("component", "sandbox_audit").Logger(),
	}
}

func (a *auditor) record(ev auditEvent) {
	entry := a.log.Info()
	if !ev.ok {
		entry = a.log.Warn()
	}
	entry.
		Str("entry", ev.entry).
		Str("mode", ev.mode).
		Dur("deadline", ev.deadline).
		Dur("duration", ev.duration).
		Bool("ok", ev.ok)
	if ev.errMsg != "" {
		entry = entry.Str("error", ev.errMsg)
	}
	entry.Msg("sandbox run complete")
}
