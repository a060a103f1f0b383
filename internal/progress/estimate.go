package progress

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

const (
	// DefaultFloor is reported while ffmpeg has not printed a timestamp yet.
	DefaultFloor = 5

	knownCeiling   = 99
	unknownCeiling = 95
	minGuessTotal  = 30 * time.Second
	maxGuessTotal  = 300 * time.Second
)

// A timestamp only counts when whitespace follows it; a token cut off by the
// end of the read window is a fragment.
var timestampPattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)\s`)

// ParseTimestamp returns the last complete time=HH:MM:SS[.frac] value in tail,
// in seconds.
func ParseTimestamp(tail string) (float64, bool) {
	matches := timestampPattern.FindAllStringSubmatch(tail, -1)
	if len(matches) == 0 {
		return 0, false
	}
	m := matches[len(matches)-1]
	hours, err1 := strconv.Atoi(m[1])
	minutes, err2 := strconv.Atoi(m[2])
	seconds, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}

// Estimator turns log tails into percentages.
type Estimator struct {
	Floor int
}

// Estimate applies the default floor.
func Estimate(tail string, totalDuration float64, last int, elapsed time.Duration) int {
	return Estimator{Floor: DefaultFloor}.Estimate(tail, totalDuration, last, elapsed)
}

// Estimate returns a percentage in [0, 99] that is never below last.
//
// With a timestamp and a known duration the ratio is used directly. Without a
// duration the total is guessed from elapsed time, clamped to 30s..5m, and the
// estimate stops at 95. Without any timestamp the floor is reported.
func (e Estimator) Estimate(tail string, totalDuration float64, last int, elapsed time.Duration) int {
	floor := e.Floor
	if floor < 0 {
		floor = 0
	}
	var computed int
	if t, ok := ParseTimestamp(tail); !ok {
		computed = floor
	} else if totalDuration > 0 {
		computed = min(knownCeiling, int(math.Round(100*t/totalDuration)))
	} else {
		guess := max(minGuessTotal, min(maxGuessTotal, 2*elapsed))
		computed = min(unknownCeiling, int(math.Round(100*elapsed.Seconds()/guess.Seconds())))
	}
	if computed < 0 {
		computed = 0
	}
	return max(last, computed)
}
