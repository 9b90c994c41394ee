package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ffclip/clip"
	"ffclip/config"
	"ffclip/logging"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// logTail is how many stderr lines a failure report carries.
const logTail = 256

// Runner executes clip commands with the ffmpeg binary. It implements
// clip.Engine.
type Runner struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	return &Runner{
		cfg:    cfg,
		logger: logging.WithComponent("ffmpeg"),
	}, nil
}

// process is the clip.Job handle for one ffmpeg process.
type process struct {
	cancel context.CancelFunc
}

func (p *process) Cancel() { p.cancel() }

// Execute starts ffmpeg and returns immediately. Statistics come from
// ffmpeg's -progress stream on stdout, log lines from stderr.
func (r *Runner) Execute(cmd clip.Command, events clip.EngineEvents) (clip.Job, error) {
	if err := r.checkResources(); err != nil {
		return nil, fmt.Errorf("insufficient system resources: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := append([]string{"-nostats", "-progress", "pipe:1"}, cmd.Args...)

	c := exec.CommandContext(ctx, r.cfg.FFBin, args...) // #nosec G204
	// ffmpeg finalizes the container on SIGINT; WaitDelay escalates to a kill.
	c.Cancel = func() error { return c.Process.Signal(os.Interrupt) }
	c.WaitDelay = r.killGrace()

	// Non-file writers make exec copy the output itself, so WaitDelay also
	// bounds those copies when a child process keeps the pipes open.
	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	c.Stdout = stdoutW
	c.Stderr = stderrW

	r.logger.Debug().Str(logging.FieldCommand, c.String()).Msg("starting ffmpeg process")
	if err := c.Start(); err != nil {
		cancel()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("ffmpeg start failed: %w", err)
	}

	go r.supervise(ctx, cancel, c, stdout, stderr, []*io.PipeWriter{stdoutW, stderrW}, events)
	return &process{cancel: cancel}, nil
}

func (r *Runner) supervise(ctx context.Context, cancel context.CancelFunc, c *exec.Cmd, stdout, stderr io.Reader, writers []*io.PipeWriter, events clip.EngineEvents) {
	defer cancel()

	ring := NewLineRing(logTail)
	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		if err := ParseProgress(stdout, events.OnStatistics); err != nil {
			r.logger.Warn().Err(err).Msg("progress reader error")
		}
		// Keep draining so the process never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}()
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			_, _ = ring.Write([]byte(line + "\n"))
			events.OnLog(line)
		}
		_, _ = io.Copy(io.Discard, stderr)
	}()

	waitErr := c.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// ffmpeg exited cleanly; only a leftover child held the pipes.
		r.logger.Warn().Msg("output pipes still open after ffmpeg exited")
		waitErr = nil
	}
	for _, w := range writers {
		_ = w.Close()
	}
	ioWg.Wait()

	completion := classify(ctx, waitErr)
	completion.Logs = strings.Join(ring.LastN(logTail), "\n")

	ev := r.logger.Debug()
	if completion.Class == clip.ReturnFailure {
		ev = r.logger.Warn().Err(waitErr).Strs("stderr", ring.LastN(20))
	}
	ev.Int(logging.FieldExitCode, completion.Code).
		Str("class", completion.Class.String()).
		Msg("ffmpeg process exited")

	events.OnComplete(completion)
}

// classify maps the process result to a clip return class. Any exit after
// our own cancel counts as a cancel, whatever code ffmpeg chose.
func classify(ctx context.Context, waitErr error) clip.Completion {
	code := 0
	if waitErr != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	switch {
	case ctx.Err() != nil:
		return clip.Completion{Class: clip.ReturnCancel, Code: code}
	case waitErr == nil:
		return clip.Completion{Class: clip.ReturnSuccess, Code: 0}
	default:
		return clip.Completion{Class: clip.ReturnFailure, Code: code}
	}
}

func (r *Runner) killGrace() time.Duration {
	if r.cfg.KillGrace > 0 {
		return r.cfg.KillGrace
	}
	return 5 * time.Second
}

// checkResources verifies that the system has enough free resources to start
// a new job. Zero thresholds disable the corresponding check.
func (r *Runner) checkResources() error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(time.Second, false)
		if err != nil {
			r.logger.Warn().Err(err).Msg("could not get CPU usage")
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warn().Err(err).Msg("could not get memory usage")
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		dir := r.cfg.OutputDir
		if dir == "" {
			dir = os.TempDir()
		}
		d, err := disk.Usage(dir)
		if err != nil {
			r.logger.Warn().Err(err).Str(logging.FieldPath, dir).Msg("could not get disk usage")
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
