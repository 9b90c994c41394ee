package clip

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ffclip/logging"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCanceled || s == StateFailed
}

// Outcome is the terminal result of a session.
type Outcome struct {
	State  State
	Output string       // set when Completed
	Reason CancelReason // set when Canceled
	Err    error        // nil only when Completed
}

// Session owns one clip job from submission to its single terminal outcome.
// Sessions are created by a Cutter and are never reused.
type Session struct {
	id       string
	req      Request
	cmd      Command
	total    time.Duration
	engine   Engine
	listener Listener
	logger   zerolog.Logger

	state  atomic.Int32
	reason atomic.Int32 // first requested CancelReason

	// deliverMu serializes listener callbacks; terminal delivery takes it
	// after the state CAS so nothing can follow the terminal callback.
	deliverMu sync.Mutex
	progress  float64

	mu            sync.Mutex
	job           Job
	cancelPending bool
	watchdog      *time.Timer
	startedAt     time.Time
	outcome       Outcome

	done chan struct{}
}

func newSession(req Request, engine Engine, listener Listener, logger zerolog.Logger) *Session {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	id := fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	s := &Session{
		id:       id,
		req:      req,
		cmd:      BuildCommand(req),
		total:    TotalHint(req),
		engine:   engine,
		listener: listener,
		logger:   logger.With().Str(logging.FieldClipID, id).Logger(),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StatePending))
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Request() Request { return s.req.clone() }
func (s *Session) Command() Command { return Command{Args: append([]string(nil), s.cmd.Args...)} }
func (s *Session) State() State     { return State(s.state.Load()) }

// Done is closed after the terminal callback has been delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// StartedAt is zero until the session reaches Running.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Result returns the outcome once the session is terminal.
func (s *Session) Result() (Outcome, bool) {
	select {
	case <-s.done:
	default:
		return Outcome{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, true
}

// Wait blocks until the session is terminal or ctx is done. It does not
// cancel the session when ctx ends.
func (s *Session) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	out, _ := s.Result()
	return out.Output, out.Err
}

// Start prepares the output directory and submits the job. It is a no-op
// unless the session is Pending.
func (s *Session) Start() {
	if s.State() != StatePending {
		return
	}

	if err := ensureOutputDir(s.req.Output); err != nil {
		s.fail(&SetupError{Op: "prepare output", Err: err})
		return
	}

	if !s.state.CompareAndSwap(int32(StatePending), int32(StateRunning)) {
		// Canceled while preparing.
		return
	}
	running.Inc()

	s.mu.Lock()
	s.startedAt = time.Now()
	if s.req.Timeout > 0 {
		s.watchdog = time.AfterFunc(s.req.Timeout, func() {
			if s.State().Terminal() {
				return
			}
			s.logger.Warn().Dur("timeout", s.req.Timeout).Msg("watchdog fired, canceling clip")
			s.cancel(ReasonTimeout)
		})
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("mode", s.req.Mode.String()).
		Str(logging.FieldCommand, s.cmd.String()).
		Msg("starting clip")
	s.deliverLog("command: " + s.cmd.String())

	job, err := s.engine.Execute(s.cmd, sessionEvents{s})
	if err != nil {
		s.fail(&SetupError{Op: "submit", Err: err})
		return
	}

	s.mu.Lock()
	s.job = job
	pending := s.cancelPending
	s.mu.Unlock()
	if pending {
		job.Cancel()
	}
}

// Cancel requests cooperative cancellation. A Pending session terminates
// immediately; a Running one terminates when the engine stops. Calling
// Cancel on a terminal session does nothing.
func (s *Session) Cancel() {
	s.cancel(ReasonUser)
}

func (s *Session) cancel(reason CancelReason) {
	if s.State().Terminal() {
		return
	}
	s.reason.CompareAndSwap(int32(ReasonNone), int32(reason))

	if s.finish(StatePending, s.canceledOutcome()) {
		return
	}

	s.mu.Lock()
	job := s.job
	if job == nil {
		s.cancelPending = true
	}
	s.mu.Unlock()

	if job != nil && !s.State().Terminal() {
		s.logger.Debug().Str(logging.FieldReason, reason.String()).Msg("cancel requested")
		job.Cancel()
	}
}

func (s *Session) canceledOutcome() Outcome {
	reason := CancelReason(s.reason.Load())
	if reason == ReasonNone {
		reason = ReasonEngine
	}
	return Outcome{State: StateCanceled, Reason: reason, Err: &CanceledError{Reason: reason}}
}

func (s *Session) fail(err error) {
	s.finishAny(Outcome{State: StateFailed, Err: err})
}

// finishAny moves any non-terminal state to out.State.
func (s *Session) finishAny(out Outcome) bool {
	for {
		cur := s.State()
		if cur.Terminal() {
			return false
		}
		if s.finish(cur, out) {
			return true
		}
	}
}

// finish performs the single terminal transition from `from`. Only the
// caller that wins the CAS delivers the terminal callback.
func (s *Session) finish(from State, out Outcome) bool {
	if !s.state.CompareAndSwap(int32(from), int32(out.State)) {
		return false
	}

	s.mu.Lock()
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.outcome = out
	startedAt := s.startedAt
	s.mu.Unlock()

	if from == StateRunning {
		running.Dec()
		runSeconds.WithLabelValues(out.State.String()).Observe(time.Since(startedAt).Seconds())
	}
	outcomeTotal.WithLabelValues(out.State.String(), out.Reason.String()).Inc()

	ev := s.logger.Info()
	if out.State == StateFailed {
		ev = s.logger.Error().Err(out.Err)
	}
	ev.Str(logging.FieldState, out.State.String()).
		Str(logging.FieldReason, out.Reason.String()).
		Msg("clip finished")

	s.deliverMu.Lock()
	switch out.State {
	case StateCompleted:
		s.listener.OnCompleted(out.Output)
	case StateCanceled:
		s.listener.OnCanceled(out.Reason)
	case StateFailed:
		s.listener.OnError(out.Err)
	}
	s.deliverMu.Unlock()

	close(s.done)
	return true
}

func (s *Session) deliverProgress(st Statistics) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.State() != StateRunning {
		return
	}

	if raw := RawRatio(st.Time, s.total); raw > 1 {
		s.logger.Debug().Float64("raw_progress", raw).Dur("processed", st.Time).Msg("progress overshoots hint")
	}
	p := Estimate(st.Time, s.total)
	if p < s.progress {
		p = s.progress
	}
	s.progress = p
	s.listener.OnProgress(p)
}

func (s *Session) deliverLog(line string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.State() != StateRunning {
		return
	}
	s.listener.OnLog(line)
}

func (s *Session) complete(c Completion) {
	if s.State() != StateRunning {
		return
	}

	var out Outcome
	switch {
	case c.Class == ReturnSuccess:
		out = Outcome{State: StateCompleted, Output: s.req.Output}
	case c.Class == ReturnCancel || CancelReason(s.reason.Load()) != ReasonNone:
		// A failure after a requested stop is still a deliberate stop.
		out = s.canceledOutcome()
	default:
		out = Outcome{State: StateFailed, Err: &EngineFailure{Code: c.Code, Logs: c.Logs}}
	}
	s.finish(StateRunning, out)
}

// sessionEvents keeps the engine callbacks off the Session's public API.
type sessionEvents struct{ s *Session }

func (e sessionEvents) OnStatistics(st Statistics) { e.s.deliverProgress(st) }
func (e sessionEvents) OnLog(line string)          { e.s.deliverLog(line) }
func (e sessionEvents) OnComplete(c Completion)    { e.s.complete(c) }

// ensureOutputDir creates the parent directory of output, which may be a
// plain path or a file:// URL.
func ensureOutputDir(output string) error {
	p := output
	if strings.HasPrefix(output, "file://") {
		u, err := url.Parse(output)
		if err != nil {
			return err
		}
		p = u.Path
	}
	dir := filepath.Dir(p)
	if dir == "" || dir == "." {
		return nil
	}
	// #nosec G301 -- 0755
	return os.MkdirAll(dir, 0o755)
}
