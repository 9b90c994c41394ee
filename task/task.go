package task

import (
	"strings"
	"sync"
	"time"

	"ffclip/clip"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// logTail bounds the ffmpeg output kept per task.
const logTail = 50

// Info is the JSON view of a task.
type Info struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Status       Status    `json:"status"`
	Input        string    `json:"input"`
	Mode         string    `json:"mode"`
	Command      string    `json:"command,omitempty"`
	Progress     float64   `json:"progress"`
	OutputPath   string    `json:"outputPath,omitempty"`
	DownloadURL  string    `json:"downloadUrl,omitempty"`
	Error        string    `json:"error,omitempty"`
	CancelReason string    `json:"cancelReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	CompletedAt  time.Time `json:"completedAt,omitempty"`
	FFmpegOutput string    `json:"ffmpegOutput,omitempty"`
}

// Task tracks one queued clip session. Its listener methods are called by
// the session and keep Info current.
type Task struct {
	id      string
	session *clip.Session

	mu          sync.Mutex
	info        Info
	logs        []string
	subscribers map[chan struct{}]struct{}
}

func newTask(id string, req clip.Request) *Task {
	return &Task{
		id: id,
		info: Info{
			ID:         id,
			Status:     StatusQueued,
			Input:      req.Input,
			Mode:       req.Mode.String(),
			OutputPath: req.Output,
			CreatedAt:  time.Now(),
		},
		subscribers: make(map[chan struct{}]struct{}),
	}
}

func (t *Task) ID() string { return t.id }

// Session returns the clip session backing the task.
func (t *Task) Session() *clip.Session { return t.session }

// Info returns a snapshot of the task. OutputPath is only reported once the
// clip has completed.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.info
	if info.Status != StatusCompleted {
		info.OutputPath = ""
	}
	info.FFmpegOutput = strings.Join(t.logs, "\n")
	return info
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Status
}

func (t *Task) completedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.CompletedAt
}

// outputPath is the planned destination regardless of status.
func (t *Task) outputPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.OutputPath
}

// Subscribe returns a channel that receives a signal whenever the task
// changes. The channel is closed after the terminal change. Signals are
// coalesced, so readers should call Info on every receive.
func (t *Task) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.info.Status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	t.subscribers[ch] = struct{}{}
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subscribers[ch]; ok {
			delete(t.subscribers, ch)
			close(ch)
		}
	}
}

// notifyLocked must be called with t.mu held.
func (t *Task) notifyLocked() {
	terminal := t.info.Status.Terminal()
	for ch := range t.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
		if terminal {
			delete(t.subscribers, ch)
			close(ch)
		}
	}
}

// markProcessing moves a queued task to processing. It reports false if the
// task already left the queue, e.g. because it was canceled.
func (t *Task) markProcessing(command string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.info.Status != StatusQueued {
		return false
	}
	t.info.Status = StatusProcessing
	t.info.StartedAt = time.Now()
	t.info.Command = command
	t.notifyLocked()
	return true
}

func (t *Task) finishLocked(status Status) {
	t.info.Status = status
	t.info.CompletedAt = time.Now()
	t.notifyLocked()
}

func (t *Task) OnProgress(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Progress = p
	t.notifyLocked()
}

func (t *Task) OnLog(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, line)
	if len(t.logs) > logTail {
		t.logs = t.logs[len(t.logs)-logTail:]
	}
}

func (t *Task) OnCompleted(output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.OutputPath = output
	t.info.Progress = 1
	t.finishLocked(StatusCompleted)
}

func (t *Task) OnError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Error = err.Error()
	t.finishLocked(StatusFailed)
}

func (t *Task) OnCanceled(reason clip.CancelReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.CancelReason = reason.String()
	switch reason {
	case clip.ReasonTimeout:
		t.info.Error = "Task timed out"
	case clip.ReasonEngine:
		t.info.Error = "Task was stopped by ffmpeg"
	default:
		t.info.Error = "Task was canceled"
	}
	t.finishLocked(StatusCanceled)
}
