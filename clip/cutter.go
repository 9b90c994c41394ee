// Package clip extracts time ranges from media sources through an external
// command engine. A Cutter validates requests and builds commands; each
// accepted request runs in its own Session, which resolves to exactly one
// of Completed, Canceled or Failed.
package clip

import (
	"context"
	"errors"

	"ffclip/logging"

	"github.com/rs/zerolog"
)

// Cutter is the entry point for clip extraction. It holds no per-job state
// and may be shared between goroutines.
type Cutter struct {
	engine Engine
	logger zerolog.Logger
}

type Option func(*Cutter)

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cutter) { c.logger = l }
}

func NewCutter(engine Engine, opts ...Option) *Cutter {
	c := &Cutter{
		engine: engine,
		logger: logging.WithComponent("cutter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare validates req and returns a Pending session with its command
// built. Nothing runs until Session.Start is called.
func (c *Cutter) Prepare(req Request, listener Listener) (*Session, error) {
	if c.engine == nil {
		return nil, errors.New("clip: cutter has no engine")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return newSession(req.clone(), c.engine, listener, c.logger), nil
}

// Start validates req and starts a session for it. Validation errors are
// returned synchronously; every later failure arrives as the session's
// terminal outcome.
func (c *Cutter) Start(req Request, listener Listener) (*Session, error) {
	s, err := c.Prepare(req, listener)
	if err != nil {
		return nil, err
	}
	s.Start()
	return s, nil
}

// Cut runs req to completion and returns the output path. Canceling ctx
// cancels the job; Cut still waits for the engine to acknowledge, so the
// error is then a *CanceledError rather than ctx.Err().
func (c *Cutter) Cut(ctx context.Context, req Request, listener Listener) (string, error) {
	s, err := c.Prepare(req, listener)
	if err != nil {
		return "", err
	}

	if ctx.Err() != nil {
		s.Cancel()
	} else {
		stop := context.AfterFunc(ctx, s.Cancel)
		defer stop()
		s.Start()
	}

	<-s.Done()
	out, _ := s.Result()
	return out.Output, out.Err
}
