package interfaces

import (
	"context"
	"errors"

	"github.com/KevinKickass/OpenNosePort/internal/config"
	"github.com/KevinKickass/OpenNosePort/internal/machine"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"github.com/KevinKickass/OpenNosePort/internal/profiles"
	"github.com/KevinKickass/OpenNosePort/internal/storage"
)

var (
	ErrStorageDisabled = errors.New("event storage disabled")
	ErrNotSimulated    = errors.New("io backend is not simulated")
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string         `json:"state"`
	Rig              machine.Status `json:"rig"`
	IOBackend        string         `json:"io_backend"`
	IOHealthy        bool           `json:"io_healthy"`
	Transport        string         `json:"transport"`
	Recording        bool           `json:"recording"`
	SessionID        string         `json:"session_id,omitempty"`
	Profile          string         `json:"profile,omitempty"`
	WebSocketClients int            `json:"websocket_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	Controller() *machine.Controller
	// SimBank is nil unless the io backend is "sim".
	SimBank() *pins.SimBank
	PinStates() []pins.State
	ListEvents(ctx context.Context, filter storage.EventFilter) ([]storage.EventRecord, error)
	ListProfiles() []profiles.Entry
	ApplyProfile(ctx context.Context, name string) ([]string, error)
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
