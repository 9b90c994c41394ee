package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ffclip/clip"
	"ffclip/config"
	"ffclip/logging"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound      = errors.New("task not found")
	ErrNotCancelable = errors.New("task cannot be canceled")
	ErrQueueFull     = errors.New("task queue is full")
)

const queueSize = 100

type Manager struct {
	cfg            *config.Config
	cutter         *clip.Cutter
	logger         zerolog.Logger
	tasks          sync.Map
	taskQueue      chan *Task
	concurrencySem chan struct{}
	wg             sync.WaitGroup
}

// NewManager wires a clip cutter on top of engine. Jobs are queued until
// Start is called.
func NewManager(cfg *config.Config, engine clip.Engine) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("task manager requires an engine")
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("invalid max concurrency: %d", cfg.MaxConcurrency)
	}
	logger := logging.WithComponent("task")
	m := &Manager{
		cfg:            cfg,
		cutter:         clip.NewCutter(engine, clip.WithLogger(logging.WithComponent("clip"))),
		logger:         logger,
		taskQueue:      make(chan *Task, queueSize),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.logger.Info().Int("max_concurrency", m.cfg.MaxConcurrency).Msg("task manager started")
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.cleanupLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.workerLoop(ctx)
	}()
}

// Wait blocks until the loops started by Start and all running tasks have
// returned. Running tasks are canceled once the Start context ends.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("worker loop shutting down")
			return
		case t := <-m.taskQueue:
			queueDepth.Dec()
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				t.session.Cancel()
				m.logger.Info().Msg("worker loop shutting down")
				return
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, t)
			}()
		}
	}
}

// processTask runs a single task's session to its terminal state.
func (m *Manager) processTask(ctx context.Context, t *Task) {
	logger := m.logger.With().Str(logging.FieldTaskID, t.id).Logger()
	s := t.session

	if !t.markProcessing(s.Command().String()) {
		logger.Info().Str(logging.FieldState, string(t.Status())).Msg("task left the queue before processing")
		return
	}

	logger.Info().Msg("processing task")
	s.Start()

	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Cancel()
		<-s.Done()
	}

	out, _ := s.Result()
	ev := logger.Info()
	if out.State == clip.StateFailed {
		ev = logger.Warn().Err(out.Err)
	}
	ev.Str(logging.FieldState, out.State.String()).Msg("task finished")
}

// cleanupLoop periodically removes expired tasks and their output files.
func (m *Manager) cleanupLoop(ctx context.Context) {
	if m.cfg.OutputLocalLifetime <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("cleanup loop shutting down")
			return
		case now := <-ticker.C:
			m.cleanupExpired(now)
		}
	}
}

// cleanupExpired drops terminal tasks older than the output lifetime and
// returns how many were removed.
func (m *Manager) cleanupExpired(now time.Time) int {
	removed := 0
	m.tasks.Range(func(key, value any) bool {
		t := value.(*Task)
		if !t.Status().Terminal() {
			return true
		}
		if now.Sub(t.completedAt()) <= m.cfg.OutputLocalLifetime {
			return true
		}
		if path := t.outputPath(); path != "" {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				m.logger.Warn().Err(err).Str(logging.FieldPath, path).Msg("failed to remove expired output")
			} else if err == nil {
				m.logger.Info().Str(logging.FieldPath, path).Msg("removed expired output")
			}
		}
		m.tasks.Delete(key)
		removed++
		return true
	})
	return removed
}

// Submit fills in server defaults, validates req and queues it. The output
// path is derived from the task ID and outputExt. Local inputs must lie in
// one of the configured input roots. Validation failures are returned as
// *clip.ValidationError.
func (m *Manager) Submit(req clip.Request, outputExt string) (*Task, error) {
	if outputExt == "" {
		outputExt = "mp4"
	}
	if !validExt(outputExt) {
		return nil, &clip.ValidationError{Field: "outputExt", Reason: "must be 1-8 lowercase letters or digits"}
	}

	if err := checkInput(req.Input, m.cfg.InputRoots); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	req.Output = filepath.Join(m.cfg.OutputDir, fmt.Sprintf("%s_clip.%s", id, outputExt))
	m.applyDefaults(&req)

	t := newTask(id, req)
	s, err := m.cutter.Prepare(req, t)
	if err != nil {
		return nil, err
	}
	t.session = s
	t.info.SessionID = s.ID()

	m.tasks.Store(t.id, t)
	select {
	case m.taskQueue <- t:
	default:
		m.tasks.Delete(t.id)
		return nil, ErrQueueFull
	}
	queueDepth.Inc()
	m.logger.Info().
		Str(logging.FieldTaskID, t.id).
		Str(logging.FieldClipID, s.ID()).
		Msg("task submitted to queue")
	return t, nil
}

func (m *Manager) applyDefaults(req *clip.Request) {
	if req.Codec.Video == "" {
		req.Codec.Video = m.cfg.VideoCodec
	}
	if req.Codec.Audio == "" {
		req.Codec.Audio = m.cfg.AudioCodec
	}
	if req.Codec.Preset == "" {
		req.Codec.Preset = m.cfg.Preset
	}
	if req.MuxFlags == "" {
		req.MuxFlags = m.cfg.MuxFlags
	}
	if req.Timeout == 0 {
		req.Timeout = m.cfg.FFTimeout
	}
	if req.StallTimeout == 0 {
		req.StallTimeout = m.cfg.StallTimeout
	}
}

func validExt(ext string) bool {
	if len(ext) == 0 || len(ext) > 8 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (m *Manager) Get(taskID string) (*Task, bool) {
	if val, ok := m.tasks.Load(taskID); ok {
		return val.(*Task), true
	}
	return nil, false
}

// List returns all known tasks, oldest first.
func (m *Manager) List() []*Task {
	var taskList []*Task
	m.tasks.Range(func(key, value any) bool {
		taskList = append(taskList, value.(*Task))
		return true
	})
	sort.Slice(taskList, func(i, j int) bool {
		return taskList[i].info.CreatedAt.Before(taskList[j].info.CreatedAt)
	})
	return taskList
}

// Cancel requests cancellation of a queued or running task. A queued task
// is canceled immediately; a running one once ffmpeg has stopped.
func (m *Manager) Cancel(taskID string) error {
	t, ok := m.Get(taskID)
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	if status := t.Status(); status.Terminal() {
		return fmt.Errorf("cannot cancel task in state: %s: %w", status, ErrNotCancelable)
	}
	t.session.Cancel()
	m.logger.Info().Str(logging.FieldTaskID, t.id).Msg("cancellation requested")
	return nil
}

func (m *Manager) GetFilePath(filename string) (string, error) {
	// Security: Prevent path traversal
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename {
		return "", fmt.Errorf("invalid filename")
	}

	fullPath := filepath.Join(m.cfg.OutputDir, cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
