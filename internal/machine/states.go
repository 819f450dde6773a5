package machine

import (
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/station"
)

type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is a point-in-time view of the control loop, safe to read from any
// goroutine.
type Status struct {
	State           State     `json:"state"`
	Stations        int       `json:"stations"`
	Capacity        int       `json:"capacity"`
	PollInterval    string    `json:"poll_interval"`
	Polls           uint64    `json:"polls"`
	Commands        uint64    `json:"commands"`
	ProtocolErrors  uint64    `json:"protocol_errors"`
	ClockMicros     uint32    `json:"clock_us"`
	LastStateChange time.Time `json:"last_state_change"`
}

// StationList is returned by Controller.Snapshots.
type StationList struct {
	Stations []station.Snapshot `json:"stations"`
	Capacity int                `json:"capacity"`
}
