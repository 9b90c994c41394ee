package clip

import "time"

// ReturnClass classifies how the engine finished a job.
type ReturnClass int

const (
	ReturnSuccess ReturnClass = iota
	ReturnCancel
	ReturnFailure
)

func (c ReturnClass) String() string {
	switch c {
	case ReturnSuccess:
		return "success"
	case ReturnCancel:
		return "cancel"
	default:
		return "failure"
	}
}

// Statistics is one periodic progress sample from the engine.
type Statistics struct {
	Time  time.Duration // media time processed so far
	Frame int64
	Size  int64
	Speed float64
}

// Completion is the single terminal event of a job.
type Completion struct {
	Class ReturnClass
	Code  int
	Logs  string
}

// EngineEvents receives job events. Calls may come from any goroutine.
type EngineEvents interface {
	OnStatistics(Statistics)
	OnLog(line string)
	OnComplete(Completion)
}

// Job is a handle on a submitted engine job.
type Job interface {
	// Cancel asks the engine to stop. It must be safe to call more than once
	// and must not deliver events synchronously.
	Cancel()
}

// Engine runs commands asynchronously and reports exactly one Completion per
// successfully submitted job.
type Engine interface {
	Execute(cmd Command, events EngineEvents) (Job, error)
}
