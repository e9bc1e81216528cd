package commands

import (
	"fmt"
	"strings"
)

var durationUnits = []struct {
	name    string
	seconds int
}{
	{"year", 365 * 24 * 3600},
	{"day", 24 * 3600},
	{"hour", 3600},
	{"minute", 60},
	{"second", 1},
}

// secondsForHumans renders 65 as "1 minute, 5 seconds".
func secondsForHumans(total int) string {
	if total <= 0 {
		return "0 seconds"
	}
	var parts []string
	for _, u := range durationUnits {
		n := total / u.seconds
		if n == 0 {
			continue
		}
		total -= n * u.seconds
		name := u.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}
	return strings.Join(parts, ", ")
}
