//go:build !linux

package transport

import (
	"errors"
	"io"
)

type SerialPort struct {
	io.ReadWriteCloser
}

func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	return nil, errors.New("transport: serial ports are only supported on linux")
}

func (p *SerialPort) Device() string { return "" }
