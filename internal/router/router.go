// Package router dispatches one host invocation to its mode, purely from
// which environment variables are present (spec.md §4.8). Grounded on the
// original script's main() dispatcher, which checks NZBSP_TASKID /
// NZBNA_NZBNAME / NZBNP_NZBNAME / NZBCP_COMMAND in sequence; reworked per
// spec.md §9 into a pure function over a map instead of direct os.Environ
// access, so it is unit-testable without process environment state.
package router

// Mode identifies which invocation path the host triggered.
type Mode int

const (
	// ModeNone means none of the recognised trigger variables were set;
	// the invocation does nothing.
	ModeNone Mode = iota
	// ModeScheduler is a scheduled task run (NZBSP_TASKID present).
	ModeScheduler
	// ModeQueueEvent is a queue-script invocation (NZBNA_NZBNAME present),
	// with the specific sub-event in QueueEvent.
	ModeQueueEvent
	// ModeScan is a pre-queue scan hook (NZBNP_NZBNAME present); it never
	// runs the prober, only pauses and tags a newly arriving release.
	ModeScan
	// ModeManualButton is a manual-button invocation (NZBCP_COMMAND
	// present); runs the scheduler path and must exit 93 on success.
	ModeManualButton
)

// QueueEvent enumerates the sub-events a queue-script invocation reports.
type QueueEvent string

const (
	EventNZBAdded      QueueEvent = "NZB_ADDED"
	EventNZBDownloaded QueueEvent = "NZB_DOWNLOADED"
	EventNZBDeleted    QueueEvent = "NZB_DELETED"
	EventNZBMarked     QueueEvent = "NZB_MARKED"
)

// Decision is the dispatch result: which mode, and (for queue events) which
// sub-event. A single invocation may match more than one trigger variable;
// the original script runs every matching branch in sequence, most
// significantly Scheduler before Manual-button when NZBCP_COMMAND is set
// alongside NZBSP_TASKID. Modes returns every matched mode in that order.
type Decision struct {
	Modes      []Mode
	QueueEvent QueueEvent
}

// Dispatch inspects env (a process environment snapshot, not os.Environ
// itself) and reports every invocation mode it matches, in the order the
// host family defines.
func Dispatch(env map[string]string) Decision {
	var d Decision

	if _, ok := env["NZBSP_TASKID"]; ok {
		d.Modes = append(d.Modes, ModeScheduler)
	}
	if _, ok := env["NZBNA_NZBNAME"]; ok {
		d.Modes = append(d.Modes, ModeQueueEvent)
		d.QueueEvent = QueueEvent(env["NZBNA_EVENT"])
	}
	if _, ok := env["NZBNP_NZBNAME"]; ok {
		d.Modes = append(d.Modes, ModeScan)
	}
	if _, ok := env["NZBCP_COMMAND"]; ok {
		d.Modes = append(d.Modes, ModeManualButton)
	}

	if len(d.Modes) == 0 {
		d.Modes = []Mode{ModeNone}
	}
	return d
}

// RunsProber reports whether the given mode should drive the prober
// selection loop. Scan mode never does: it only pauses and tags incoming
// releases for later correlation.
func RunsProber(m Mode) bool {
	return m == ModeScheduler || m == ModeQueueEvent || m == ModeManualButton
}

// IsRelevantQueueEvent reports whether a queue-script sub-event should
// trigger the selection loop. NZB_DOWNLOADED is additionally a signal to
// the caller that the host just closed its own news-server connections for
// this release (it downloaded the release's par2/nzb housekeeping files
// moments before pausing it); the caller should give the host's own
// connections a few seconds to close before dialing its own sessions
// against the same providers, per the original script's queue_time
// bookkeeping (main.py's queue_call/get_sockets).
func IsRelevantQueueEvent(e QueueEvent) bool {
	switch e {
	case EventNZBAdded, EventNZBDownloaded, EventNZBDeleted, EventNZBMarked:
		return true
	default:
		return false
	}
}
