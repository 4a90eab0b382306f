package provisioner

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gammadia/skyway/errdefs"
)

const DefaultWalltime = time.Hour

// ParseWalltime accepts the Slurm time formats: "MM", "MM:SS", "HH:MM:SS",
// "D-HH", "D-HH:MM" and "D-HH:MM:SS". Go durations such as "90m" are accepted too.
func ParseWalltime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errdefs.InvalidArgument("empty walltime")
	}
	if strings.ContainsAny(s, "hms") {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, errdefs.InvalidArgument("invalid walltime '%s'", s)
		}
		return d, nil
	}

	var days int
	rest := s
	if before, after, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.Atoi(before)
		if err != nil || n < 0 {
			return 0, errdefs.InvalidArgument("invalid walltime '%s'", s)
		}
		days, rest = n, after
	}

	parts := strings.Split(rest, ":")
	if len(parts) > 3 {
		return 0, errdefs.InvalidArgument("invalid walltime '%s'", s)
	}
	values := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, errdefs.InvalidArgument("invalid walltime '%s'", s)
		}
		values[i] = n
	}

	var hours, minutes, seconds int
	switch {
	case s != rest && len(values) == 1:
		hours = values[0]
	case s != rest && len(values) == 2:
		hours, minutes = values[0], values[1]
	case len(values) == 1:
		minutes = values[0]
	case len(values) == 2:
		minutes, seconds = values[0], values[1]
	default:
		hours, minutes, seconds = values[0], values[1], values[2]
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if d <= 0 {
		return 0, errdefs.InvalidArgument("walltime '%s' must be positive", s)
	}
	return d, nil
}

// FormatWalltime renders d as HH:MM:SS, hours unbounded.
func FormatWalltime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
