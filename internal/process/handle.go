package process

import (
	"errors"
	"slices"
	"strconv"
	"time"

	gops "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// MaxPID is the largest process id Linux hands out (pid_max upper bound).
const MaxPID = 4194304

// createTimeTolerance absorbs the rounding between the kernel's start ticks
// and the timestamp captured at spawn.
const createTimeTolerance = 2 * time.Second

// State is the outcome of a liveness check.
type State int

const (
	StateExited State = iota
	StateAlive
	// StateRecycled means the pid is live but belongs to a different process.
	StateRecycled
	// StateInvalid means the recorded pid is outside the plausible range.
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateRecycled:
		return "recycled"
	case StateInvalid:
		return "invalid"
	default:
		return "exited"
	}
}

// Handle references a spawned process.
type Handle struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// ValidPID reports whether pid is a plausible process id.
func ValidPID(pid int) bool {
	return pid > 0 && pid <= MaxPID
}

// ParsePID parses and validates a textual process id.
func ParsePID(value string) (int, bool) {
	pid, err := strconv.Atoi(value)
	if err != nil || !ValidPID(pid) {
		return 0, false
	}
	return pid, true
}

// IsAlive reports whether the handle still refers to the running process it
// was created for.
func (h Handle) IsAlive() bool {
	return h.Check() == StateAlive
}

// Check classifies the handle's process.
func (h Handle) Check() State {
	if !ValidPID(h.PID) {
		return StateInvalid
	}
	if err := unix.Kill(h.PID, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return StateExited
	}
	proc, err := gops.NewProcess(int32(h.PID))
	if err != nil {
		return StateExited
	}
	if statuses, err := proc.Status(); err == nil && slices.Contains(statuses, gops.Zombie) {
		return StateExited
	}
	if h.StartedAt.IsZero() {
		return StateAlive
	}
	created, err := proc.CreateTime()
	if err != nil {
		return StateAlive
	}
	if diff := time.UnixMilli(created).Sub(h.StartedAt); diff > createTimeTolerance || diff < -createTimeTolerance {
		return StateRecycled
	}
	return StateAlive
}

// startTime returns the kernel's view of when pid started, falling back to now.
func startTime(pid int) time.Time {
	proc, err := gops.NewProcess(int32(pid))
	if err != nil {
		return time.Now()
	}
	created, err := proc.CreateTime()
	if err != nil || created <= 0 {
		return time.Now()
	}
	return time.UnixMilli(created)
}
