package clip

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// hlsProtocols is the protocol allowlist for playlist sources.
const hlsProtocols = "file,http,https,tcp,tls,crypto"

// Command is a fully built engine invocation, without the binary name.
type Command struct {
	Args []string
}

// String renders the command on one line, double-quoting arguments that
// contain whitespace.
func (c Command) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = quote(a)
	}
	return strings.Join(parts, " ")
}

// BuildCommand turns a request into engine arguments. It has no side effects
// and never fails; callers validate the request first.
func BuildCommand(r Request) Command {
	args := []string{"-hide_banner"}
	if r.Overwrite {
		args = append(args, "-y")
	} else {
		args = append(args, "-n")
	}

	if IsHLS(r.Input) {
		stall := r.StallTimeout
		if stall <= 0 {
			stall = DefaultStallTimeout
		}
		args = append(args,
			"-protocol_whitelist", hlsProtocols,
			"-rw_timeout", strconv.FormatInt(stall.Microseconds(), 10),
		)
	}

	switch r.Mode {
	case Reencode:
		// Seeking after the input decodes up to the exact frame.
		args = append(args, "-i", r.Input, "-ss", FormatTimestamp(r.Start))
		if r.Duration > 0 {
			args = append(args, "-t", FormatTimestamp(r.Duration))
		}
		args = append(args, "-c:v", r.Codec.Video, "-c:a", r.Codec.Audio)
		if r.Codec.Preset != "" {
			args = append(args, "-preset", r.Codec.Preset)
		}
		if strings.TrimSpace(r.MuxFlags) != "" {
			args = append(args, "-movflags", r.MuxFlags)
		}
	default:
		// Input seeking jumps to the keyframe before Start.
		if r.Start > 0 {
			args = append(args, "-ss", FormatTimestamp(r.Start))
		}
		args = append(args, "-i", r.Input)
		if r.Duration > 0 {
			args = append(args, "-t", FormatTimestamp(r.Duration))
		}
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	}

	args = append(args, r.ExtraArgs...)
	args = append(args, r.Output)
	return Command{Args: args}
}

// IsHLS reports whether the input looks like an HLS playlist.
func IsHLS(input string) bool {
	s := strings.ToLower(input)
	return strings.HasSuffix(s, ".m3u8") || strings.Contains(s, "m3u8?")
}

// FormatTimestamp renders d as HH:MM:SS.mmm. Negative values render as zero.
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	totalSec := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		totalSec/3600, (totalSec%3600)/60, totalSec%60, ms%1000)
}

func quote(s string) string {
	if strings.IndexFunc(s, unicode.IsSpace) < 0 {
		return s
	}
	return `"` + s + `"`
}
