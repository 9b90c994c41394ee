package clip

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how the clip is extracted.
type Mode int

const (
	// FastCopy copies streams without re-encoding. Cut points snap to the
	// nearest preceding keyframe.
	FastCopy Mode = iota
	// Reencode decodes and re-encodes, giving frame-exact cut points.
	Reencode
)

func (m Mode) String() string {
	switch m {
	case FastCopy:
		return "fastcopy"
	case Reencode:
		return "reencode"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "fastcopy"/"copy" and "reencode"/"encode".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fastcopy", "copy":
		return FastCopy, nil
	case "reencode", "encode":
		return Reencode, nil
	}
	return FastCopy, fmt.Errorf("unknown clip mode %q", s)
}

// Codec names the encoders used in Reencode mode.
type Codec struct {
	Video  string
	Audio  string
	Preset string
}

// Request describes one clip extraction. It is passed by value and is never
// modified once handed to a Cutter.
type Request struct {
	Input  string // local path or stream URL
	Output string // destination; its parent directory is created on demand

	Start    time.Duration
	Duration time.Duration // 0 runs to the end of the source

	Mode     Mode
	Codec    Codec  // Reencode only
	MuxFlags string // e.g. "+faststart", Reencode only

	// ExpectedTotal overrides Duration as the progress denominator.
	ExpectedTotal time.Duration
	// Timeout bounds wall-clock execution; 0 means unbounded.
	Timeout time.Duration
	// StallTimeout bounds network stalls on HLS sources; 0 uses DefaultStallTimeout.
	StallTimeout time.Duration

	Overwrite bool

	// ExtraArgs are output options inserted right before the output path.
	ExtraArgs []string
}

// DefaultStallTimeout is applied to HLS inputs when the request has none.
const DefaultStallTimeout = 15 * time.Second

// DefaultRequest returns a FastCopy request with the stock encoder settings
// used when the caller switches to Reencode.
func DefaultRequest(input, output string) Request {
	return Request{
		Input:  input,
		Output: output,
		Mode:   FastCopy,
		Codec: Codec{
			Video:  "libx264",
			Audio:  "aac",
			Preset: "veryfast",
		},
		MuxFlags:  "+faststart",
		Overwrite: true,
	}
}

// encodeOnlyArgs are output options that need decoded frames. ffmpeg
// rejects them alongside -c copy.
var encodeOnlyArgs = map[string]bool{
	"-vf": true, "-af": true, "-filter:v": true, "-filter:a": true, "-filter_complex": true,
	"-c:v": true, "-c:a": true, "-vcodec": true, "-acodec": true, "-preset": true,
	"-r": true, "-s": true, "-aspect": true, "-pix_fmt": true,
	"-b:v": true, "-b:a": true, "-maxrate": true, "-bufsize": true, "-crf": true,
	"-g": true, "-tune": true, "-profile:v": true, "-level": true,
	"-ac": true, "-ar": true,
}

// Validate reports the first malformed field as a *ValidationError.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.Input) == "":
		return &ValidationError{Field: "input", Reason: "is required"}
	case strings.TrimSpace(r.Output) == "":
		return &ValidationError{Field: "output", Reason: "is required"}
	case r.Start < 0:
		return &ValidationError{Field: "start", Reason: "must be >= 0"}
	case r.Duration < 0:
		return &ValidationError{Field: "duration", Reason: "must be >= 0"}
	case r.ExpectedTotal < 0:
		return &ValidationError{Field: "expectedTotal", Reason: "must be >= 0"}
	case r.Timeout < 0:
		return &ValidationError{Field: "timeout", Reason: "must be >= 0"}
	case r.StallTimeout < 0:
		return &ValidationError{Field: "stallTimeout", Reason: "must be >= 0"}
	}

	switch r.Mode {
	case FastCopy:
		for _, arg := range r.ExtraArgs {
			if encodeOnlyArgs[arg] {
				return &ValidationError{Field: "extraArgs", Reason: fmt.Sprintf("%s requires reencode", arg)}
			}
		}
	case Reencode:
		if strings.TrimSpace(r.Codec.Video) == "" {
			return &ValidationError{Field: "codec.video", Reason: "is required for reencode"}
		}
		if strings.TrimSpace(r.Codec.Audio) == "" {
			return &ValidationError{Field: "codec.audio", Reason: "is required for reencode"}
		}
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown value %d", int(r.Mode))}
	}
	return nil
}

// clone detaches the slice fields so later caller edits cannot leak in.
func (r Request) clone() Request {
	if r.ExtraArgs != nil {
		r.ExtraArgs = append([]string(nil), r.ExtraArgs...)
	}
	return r
}
