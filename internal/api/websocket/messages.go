package websocket

import (
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/station"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeStationEvent  MessageType = "station_event"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypeAuthSuccess   MessageType = "auth_success"
	MessageTypeAuthFailed    MessageType = "auth_failed"
	MessageTypeError         MessageType = "error"
)

// Message is the envelope for everything sent to clients.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ClientMessage is what clients send: an auth token or a command line.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Line  string `json:"line,omitempty"`
}

type StationEventData struct {
	StationID   int    `json:"station_id"`
	Tag         string `json:"tag"`
	Event       string `json:"event"`
	Line        string `json:"line"`
	ClockMicros uint32 `json:"clock_us"`
}

type CommandResultData struct {
	Line    string   `json:"line"`
	Replies []string `json:"replies"`
	Error   string   `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewStationEventMessage(ev station.Event) Message {
	return NewMessage(MessageTypeStationEvent, StationEventData{
		StationID:   ev.StationID,
		Tag:         string(rune(ev.Tag)),
		Event:       ev.Tag.Name(),
		Line:        ev.String(),
		ClockMicros: ev.AtMicros,
	})
}

func NewErrorMessage(reason string) Message {
	return NewMessage(MessageTypeError, map[string]string{"reason": reason})
}
