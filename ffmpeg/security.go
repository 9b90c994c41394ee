package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// extraArgArity lists the output options callers may add to a clip and
// whether each takes a value. Anything else is rejected, which also rules
// out extra inputs and extra output files.
var extraArgArity = map[string]bool{
	"-an":           false,
	"-vn":           false,
	"-sn":           false,
	"-dn":           false,
	"-shortest":     false,
	"-vf":           true,
	"-af":           true,
	"-r":            true,
	"-s":            true,
	"-aspect":       true,
	"-b:v":          true,
	"-b:a":          true,
	"-maxrate":      true,
	"-bufsize":      true,
	"-crf":          true,
	"-g":            true,
	"-tune":         true,
	"-profile:v":    true,
	"-level":        true,
	"-pix_fmt":      true,
	"-ac":           true,
	"-ar":           true,
	"-map":          true,
	"-map_metadata": true,
	"-metadata":     true,
	"-fflags":       true,
}

// SplitArgs securely splits a user-supplied option string. No shell is involved.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// ValidateExtraArgs checks split extra output options against the allowlist.
func ValidateExtraArgs(args []string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		// exec.Command never runs a shell, but these have no business in
		// ffmpeg options either.
		if strings.ContainsAny(arg, "|&;`$<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}

		takesValue, ok := extraArgArity[arg]
		if !ok {
			return fmt.Errorf("option not allowed: %s", arg)
		}
		if takesValue {
			if i+1 >= len(args) {
				return fmt.Errorf("option %s requires a value", arg)
			}
			i++
			if strings.ContainsAny(args[i], "|&;`$<>") {
				return fmt.Errorf("disallowed character found in argument: %s", args[i])
			}
		}
	}
	return nil
}

// ParseExtraArgs splits and validates in one step.
func ParseExtraArgs(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	args, err := SplitArgs(s)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
