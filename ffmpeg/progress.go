package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"

	"ffclip/clip"
)

// ParseProgress reads ffmpeg's -progress key=value stream and calls emit
// once per "progress=" batch marker that carried a processed time.
func ParseProgress(r io.Reader, emit func(clip.Statistics)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		batch   clip.Statistics
		timeSet bool
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "progress":
			if timeSet {
				emit(batch)
			}
			batch = clip.Statistics{}
			timeSet = false
		case "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				batch.Time = time.Duration(us) * time.Microsecond
				timeSet = true
			}
		case "out_time_ms":
			// Despite the name ffmpeg reports microseconds here too.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 && !timeSet {
				batch.Time = time.Duration(us) * time.Microsecond
				timeSet = true
			}
		case "out_time":
			if d, ok := parseOutTime(value); ok && !timeSet {
				batch.Time = d
				timeSet = true
			}
		case "frame":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				batch.Frame = n
			}
		case "total_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				batch.Size = n
			}
		case "speed":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
				batch.Speed = v
			}
		}
	}
	return scanner.Err()
}

// parseOutTime parses "HH:MM:SS.micro".
func parseOutTime(s string) (time.Duration, bool) {
	if s == "" || s == "N/A" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.ParseInt(parts[0], 10, 64)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), true
}
