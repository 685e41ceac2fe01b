package platform

import "fmt"

// Event is a raw debug-event record. Each back-end defines its own concrete
// type; only that back-end's EventTable knows how to read it.
type Event interface {
	ProcessID() int
	ThreadID() int
}

// LifecycleKind classifies events that change the thread set rather than
// stop a thread.
type LifecycleKind int

const (
	ThreadCreated LifecycleKind = iota + 1
	ThreadExited
	ProcessExited
	ProcessTerminated
)

func (k LifecycleKind) String() string {
	switch k {
	case ThreadCreated:
		return "thread-created"
	case ThreadExited:
		return "thread-exited"
	case ProcessExited:
		return "process-exited"
	case ProcessTerminated:
		return "process-terminated"
	default:
		return fmt.Sprintf("LifecycleKind(%d)", int(k))
	}
}

// Terminal reports whether the process is gone after this event.
func (k LifecycleKind) Terminal() bool {
	return k == ProcessExited || k == ProcessTerminated
}

// Lifecycle is the interpretation of a thread or process lifecycle event.
type Lifecycle struct {
	Kind LifecycleKind

	// Tid is the thread that was created or exited.
	Tid int

	// Handle is handed over to a newly created thread.
	Handle Handle

	// Status is the exit code, or the terminating signal.
	Status int

	// Reporter is a thread left stopped at OS level by delivering this
	// event, 0 if none. It has to be continued to let the process go on.
	Reporter int

	// Release lists transient handles delivered with the event.
	Release []Handle
}

// ClassifyContext is the thread state an EventTable may need.
type ClassifyContext struct {
	Stepping bool
}

// Classification is the result of classifying one stop event.
type Classification struct {
	Trap Trap

	// Release lists transient handles delivered with the event. They are
	// closed exactly once by the thread that consumed the event.
	Release []Handle
}

// EventTable is the per-platform mapping of raw events. It is selected
// once, when the back-end is created.
type EventTable interface {
	// Lifecycle interprets ev if it creates or destroys a thread or the
	// process. ok is false for stop events.
	Lifecycle(ev Event) (lc Lifecycle, ok bool)

	// Classify maps a stop event to a Trap. Unknown event codes return
	// *UnknownEventError.
	Classify(ev Event, ctx ClassifyContext) (Classification, error)
}

// UnknownEventError reports an event code missing from a platform table.
type UnknownEventError struct {
	Platform string
	Code     uint64
	Detail   string
}

func (e *UnknownEventError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: unknown debug event code %d (%s)", e.Platform, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: unknown debug event code %d", e.Platform, e.Code)
}
