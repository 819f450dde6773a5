package storage

import (
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/station"
	"github.com/google/uuid"
)

// EventRecord is one persisted station event.
type EventRecord struct {
	ID          int64     `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	StationID   int       `json:"station_id"`
	Tag         string    `json:"tag"`
	Line        string    `json:"line"`
	ClockMicros uint32    `json:"clock_us"`
	RecordedAt  time.Time `json:"recorded_at"`
}

func NewEventRecord(session uuid.UUID, ev station.Event, at time.Time) EventRecord {
	return EventRecord{
		SessionID:   session,
		StationID:   ev.StationID,
		Tag:         string(rune(ev.Tag)),
		Line:        ev.String(),
		ClockMicros: ev.AtMicros,
		RecordedAt:  at,
	}
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	SessionID uuid.UUID
	StationID int
	Limit     int
}
