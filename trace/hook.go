package trace

import (
	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/logging"
)

// Hook adapts a Recorder into a scheduler.InstrumentationHook (scheduler
// never imports trace to avoid a cycle; it accepts anything satisfying its
// narrow OnEventDispatched(event.Event) interface, and Hook does). This is
// the wiring SPEC_FULL.md §0 calls out: "trace — used by the
// testable-properties suite" only holds if every dispatched event actually
// reaches a Recorder during a real run, not only in package-local tests.
type Hook struct {
	Recorder Recorder
	Log      logging.Logger
}

// NewHook builds a Hook over recorder, logging Record failures through log
// (logging.Noop if log is nil) rather than aborting the round: a trace
// write failing must never stop the simulation it is only observing.
func NewHook(recorder Recorder, log logging.Logger) *Hook {
	if log == nil {
		log = logging.Noop
	}
	return &Hook{Recorder: recorder, Log: log}
}

// OnEventDispatched implements scheduler.InstrumentationHook.
func (h *Hook) OnEventDispatched(ev event.Event) {
	if h.Recorder == nil {
		return
	}
	if err := h.Recorder.Record(Record{
		Host: ev.DstHost,
		Time: ev.Time,
		Kind: ev.Task.Kind.String(),
	}); err != nil {
		h.Log.WithFields(logging.Fields{"host": ev.DstHost, "time": ev.Time}).Warn("trace: ", err)
	}
}
