package transport

import (
	"errors"
	"time"
)

var (
	ErrUnsupportedBaud = errors.New("transport: unsupported baud rate")
	ErrPortClosed      = errors.New("transport: port closed")
)

// SerialConfig describes a raw 8N1 serial line.
type SerialConfig struct {
	Device   string
	BaudRate int
	// PollTimeout bounds each blocking wait so Close is noticed promptly.
	PollTimeout time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	return c
}
