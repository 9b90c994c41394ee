package clip

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEngine replays logs and statistics, then completes after runFor
// unless the job is canceled first. After completing it sends late events
// that the session must ignore.
type fakeEngine struct {
	runFor  time.Duration
	stats   []time.Duration
	logs    []string
	result  Completion
	execErr error

	executed atomic.Int32
	lastJob  atomic.Pointer[fakeJob]
}

type fakeJob struct {
	once     sync.Once
	cancelCh chan struct{}
	cancels  atomic.Int32
}

func (j *fakeJob) Cancel() {
	j.cancels.Add(1)
	j.once.Do(func() { close(j.cancelCh) })
}

func (e *fakeEngine) Execute(cmd Command, ev EngineEvents) (Job, error) {
	e.executed.Add(1)
	if e.execErr != nil {
		return nil, e.execErr
	}
	j := &fakeJob{cancelCh: make(chan struct{})}
	e.lastJob.Store(j)

	go func() {
		for _, l := range e.logs {
			ev.OnLog(l)
		}
		for _, st := range e.stats {
			ev.OnStatistics(Statistics{Time: st})
		}
		select {
		case <-time.After(e.runFor):
			ev.OnComplete(e.result)
		case <-j.cancelCh:
			ev.OnComplete(Completion{Class: ReturnCancel, Code: 255, Logs: "Exiting normally, received signal 2."})
		}
		ev.OnStatistics(Statistics{Time: time.Hour})
		ev.OnLog("late")
		ev.OnComplete(Completion{Class: ReturnFailure, Code: 99})
	}()
	return j, nil
}

// recorder is a Listener that keeps every callback in order.
type recorder struct {
	mu        sync.Mutex
	events    []string
	progress  []float64
	logs      []string
	completed []string
	errs      []error
	canceled  []CancelReason
}

func (r *recorder) OnProgress(p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "progress")
	r.progress = append(r.progress, p)
}

func (r *recorder) OnLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "log")
	r.logs = append(r.logs, line)
}

func (r *recorder) OnCompleted(output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "completed")
	r.completed = append(r.completed, output)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error")
	r.errs = append(r.errs, err)
}

func (r *recorder) OnCanceled(reason CancelReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "canceled")
	r.canceled = append(r.canceled, reason)
}

func (r *recorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed) + len(r.errs) + len(r.canceled)
}

func (r *recorder) lastEvent() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return ""
	}
	return r.events[len(r.events)-1]
}

func newTestCutter(e Engine) *Cutter {
	return NewCutter(e, WithLogger(zerolog.Nop()))
}

func testRequest(t *testing.T) Request {
	req := DefaultRequest("/media/in.mp4", filepath.Join(t.TempDir(), "nested", "dir", "out.mp4"))
	req.Duration = 20 * time.Second
	return req
}

func TestCut_Completes(t *testing.T) {
	engine := &fakeEngine{
		runFor: 10 * time.Millisecond,
		logs:   []string{"Input #0, mov,mp4"},
		stats:  []time.Duration{0, 5 * time.Second, 3 * time.Second, 20 * time.Second, 25 * time.Second},
		result: Completion{Class: ReturnSuccess},
	}
	rec := &recorder{}
	req := testRequest(t)

	out, err := newTestCutter(engine).Cut(context.Background(), req, rec)
	require.NoError(t, err)
	assert.Equal(t, req.Output, out)

	_, statErr := os.Stat(filepath.Dir(req.Output))
	assert.NoError(t, statErr, "output directory must be created")

	time.Sleep(20 * time.Millisecond) // let late events arrive
	assert.Equal(t, 1, rec.terminals())
	assert.Equal(t, []string{req.Output}, rec.completed)
	assert.Equal(t, "completed", rec.lastEvent())
	assert.NotContains(t, rec.logs, "late")
	require.NotEmpty(t, rec.logs)
	assert.Contains(t, rec.logs[0], "command: ")

	// 0, 0.25, 0.25 (regressed sample held), 1, 1 (clamped)
	assert.Equal(t, []float64{0, 0.25, 0.25, 1, 1}, rec.progress)
	for i := 1; i < len(rec.progress); i++ {
		assert.GreaterOrEqual(t, rec.progress[i], rec.progress[i-1])
	}
}

func TestCut_EngineFailure(t *testing.T) {
	engine := &fakeEngine{
		runFor: time.Millisecond,
		result: Completion{Class: ReturnFailure, Code: 1, Logs: "Invalid data found when processing input"},
	}
	rec := &recorder{}

	_, err := newTestCutter(engine).Cut(context.Background(), testRequest(t), rec)
	require.Error(t, err)

	var failure *EngineFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.Code)
	assert.Contains(t, failure.Logs, "Invalid data")
	assert.Contains(t, err.Error(), "rc=1")
	assert.False(t, errors.Is(err, ErrCanceled))

	assert.Equal(t, 1, rec.terminals())
	require.Len(t, rec.errs, 1)
	assert.Equal(t, err, rec.errs[0])
}

func TestCut_EngineReportsCancel(t *testing.T) {
	engine := &fakeEngine{
		runFor: time.Millisecond,
		result: Completion{Class: ReturnCancel, Code: 255},
	}
	rec := &recorder{}

	_, err := newTestCutter(engine).Cut(context.Background(), testRequest(t), rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.Equal(t, []CancelReason{ReasonEngine}, rec.canceled)
}

func TestCut_ValidationError(t *testing.T) {
	engine := &fakeEngine{result: Completion{Class: ReturnSuccess}}
	rec := &recorder{}
	req := testRequest(t)
	req.Start = -time.Second

	_, err := newTestCutter(engine).Cut(context.Background(), req, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))
	assert.Equal(t, int32(0), engine.executed.Load())
	assert.Equal(t, 0, rec.terminals())
}

func TestCut_OutputDirSetupError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	engine := &fakeEngine{result: Completion{Class: ReturnSuccess}}
	rec := &recorder{}
	req := DefaultRequest("in.mp4", filepath.Join(blocker, "out.mp4"))

	_, err := newTestCutter(engine).Cut(context.Background(), req, rec)
	require.Error(t, err)

	var setup *SetupError
	require.True(t, errors.As(err, &setup))
	assert.Equal(t, "prepare output", setup.Op)
	assert.Equal(t, int32(0), engine.executed.Load())
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 1, rec.terminals())
}

func TestCut_SubmitError(t *testing.T) {
	engine := &fakeEngine{execErr: errors.New("not enough idle CPU")}
	rec := &recorder{}

	_, err := newTestCutter(engine).Cut(context.Background(), testRequest(t), rec)
	require.Error(t, err)

	var setup *SetupError
	require.True(t, errors.As(err, &setup))
	assert.Equal(t, "submit", setup.Op)
	assert.Contains(t, err.Error(), "not enough idle CPU")
	assert.Equal(t, 1, rec.terminals())
}

func TestSession_CancelBeforeStart(t *testing.T) {
	engine := &fakeEngine{runFor: time.Second, result: Completion{Class: ReturnSuccess}}
	rec := &recorder{}

	s, err := newTestCutter(engine).Prepare(testRequest(t), rec)
	require.NoError(t, err)
	assert.Equal(t, StatePending, s.State())

	s.Cancel()
	assert.Equal(t, StateCanceled, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("pending cancel must terminate immediately")
	}

	s.Start()
	assert.Equal(t, int32(0), engine.executed.Load())
	assert.True(t, s.StartedAt().IsZero())

	out, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, StateCanceled, out.State)
	assert.Equal(t, ReasonUser, out.Reason)
	assert.Equal(t, []CancelReason{ReasonUser}, rec.canceled)
	assert.Empty(t, rec.completed)
}

func TestCut_ContextAlreadyCanceled(t *testing.T) {
	engine := &fakeEngine{runFor: time.Second, result: Completion{Class: ReturnSuccess}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCutter(engine).Cut(ctx, testRequest(t), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.Equal(t, int32(0), engine.executed.Load())
}

func TestCut_ContextCancelMidFlight(t *testing.T) {
	engine := &fakeEngine{runFor: 5 * time.Second, result: Completion{Class: ReturnSuccess}}
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := newTestCutter(engine).Cut(ctx, testRequest(t), rec)
	require.Error(t, err)

	var canceled *CanceledError
	require.True(t, errors.As(err, &canceled))
	assert.Equal(t, ReasonUser, canceled.Reason)
	assert.False(t, errors.Is(err, ErrTimedOut))
	assert.Equal(t, []CancelReason{ReasonUser}, rec.canceled)
}

func TestCut_Timeout(t *testing.T) {
	engine := &fakeEngine{runFor: 5000 * time.Millisecond, result: Completion{Class: ReturnSuccess}}
	rec := &recorder{}
	req := testRequest(t)
	req.Timeout = 50 * time.Millisecond

	begin := time.Now()
	_, err := newTestCutter(engine).Cut(context.Background(), req, rec)
	elapsed := time.Since(begin)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimedOut))
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.LessOrEqual(t, elapsed, 250*time.Millisecond, "must stop within the bound after the timeout")
	assert.Equal(t, []CancelReason{ReasonTimeout}, rec.canceled)
	assert.Empty(t, rec.completed)
}

func TestSession_IdempotentCancel(t *testing.T) {
	engine := &fakeEngine{runFor: 5 * time.Second, result: Completion{Class: ReturnSuccess}}
	rec := &recorder{}

	s, err := newTestCutter(engine).Start(testRequest(t), rec)
	require.NoError(t, err)
	require.Equal(t, StateRunning, s.State())
	assert.False(t, s.StartedAt().IsZero())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Cancel()
		}()
	}
	wg.Wait()
	s.Cancel()

	_, err = s.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrCanceled))

	s.Cancel()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rec.terminals())
	assert.Len(t, rec.canceled, 1)
	assert.Equal(t, StateCanceled, s.State())
}

func TestSession_CancelFromListener(t *testing.T) {
	engine := &fakeEngine{
		runFor: 5 * time.Second,
		stats:  []time.Duration{time.Second},
		result: Completion{Class: ReturnSuccess},
	}
	var s *Session
	ready := make(chan struct{})
	listener := ListenerFuncs{
		Progress: func(float64) {
			<-ready
			s.Cancel()
		},
	}

	var err error
	s, err = newTestCutter(engine).Prepare(testRequest(t), listener)
	require.NoError(t, err)
	close(ready)
	s.Start()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel from within a callback must not deadlock")
	}
	out, _ := s.Result()
	assert.Equal(t, StateCanceled, out.State)
}

func TestSession_WatchdogRacesCompletion(t *testing.T) {
	for i := 0; i < 50; i++ {
		engine := &fakeEngine{runFor: 5 * time.Millisecond, result: Completion{Class: ReturnSuccess}}
		rec := &recorder{}
		req := testRequest(t)
		req.Timeout = 5 * time.Millisecond

		s, err := newTestCutter(engine).Start(req, rec)
		require.NoError(t, err)
		<-s.Done()

		out, ok := s.Result()
		require.True(t, ok)
		assert.True(t, out.State == StateCompleted || out.State == StateCanceled, out.State.String())
		assert.Equal(t, 1, rec.terminals())
	}
	time.Sleep(20 * time.Millisecond)
}

func TestSession_WaitHonorsContext(t *testing.T) {
	engine := &fakeEngine{runFor: 5 * time.Second, result: Completion{Class: ReturnSuccess}}
	s, err := newTestCutter(engine).Start(testRequest(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRunning, s.State(), "Wait must not cancel the session")

	_, ok := s.Result()
	assert.False(t, ok)

	s.Cancel()
	<-s.Done()
}

func TestPrepare_CopiesRequest(t *testing.T) {
	engine := &fakeEngine{result: Completion{Class: ReturnSuccess}}
	req := testRequest(t)
	req.ExtraArgs = []string{"-an"}

	s, err := newTestCutter(engine).Prepare(req, nil)
	require.NoError(t, err)
	req.ExtraArgs[0] = "-vn"

	assert.Equal(t, []string{"-an"}, s.Request().ExtraArgs)
	assert.Contains(t, s.Command().Args, "-an")
	assert.NotEmpty(t, s.ID())
	s.Cancel()
}

func TestNewCutter_RequiresEngine(t *testing.T) {
	_, err := NewCutter(nil).Prepare(DefaultRequest("in.mp4", "out.mp4"), nil)
	assert.Error(t, err)
}
