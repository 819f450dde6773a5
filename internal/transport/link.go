// Package transport carries protocol lines between a host and the control
// loop over a byte stream: a serial port or stdin/stdout.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KevinKickass/OpenNosePort/internal/command"
	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap"
)

const (
	lineEnding = "\r\n"

	// MaxLineLength bounds one protocol line. Longer lines are discarded.
	MaxLineLength = 4096
)

// Submitter executes one protocol line. machine.Controller implements it.
type Submitter interface {
	Submit(ctx context.Context, line string) ([]string, error)
}

// EventSource is a lossless event feed. machine.Queue implements it.
type EventSource interface {
	Ready() <-chan struct{}
	Drain() []station.Event
}

// Link serves one stream. Command replies and station events share the
// stream and are written from a single goroutine in the order the control
// loop produced them.
type Link struct {
	name      string
	rw        io.ReadWriter
	submitter Submitter
	logger    *zap.Logger
}

func NewLink(name string, rw io.ReadWriter, submitter Submitter, logger *zap.Logger) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Link{
		name:      name,
		rw:        rw,
		submitter: submitter,
		logger:    logger.With(zap.String("link", name)),
	}
}

// Serve reads lines until EOF or ctx is cancelled and writes every event
// from events. A nil events source disables event output.
//
// Events emitted while a command runs are already queued when Submit
// returns, so they are written before that command's replies.
func (l *Link) Serve(ctx context.Context, events EventSource) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		readErr <- l.readLines(ctx, lines)
	}()

	l.logger.Info("Link serving")
	w := bufio.NewWriter(l.rw)

	var ready <-chan struct{}
	if events != nil {
		ready = events.Ready()
	}
	flushEvents := func() error {
		if events == nil {
			return nil
		}
		for _, ev := range events.Drain() {
			if _, err := w.WriteString(ev.String() + lineEnding); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read from %s: %w", l.name, err)
			}
			l.logger.Info("Link closed by peer")
			return nil

		case line := <-lines:
			replies, err := l.submitter.Submit(ctx, line)
			if err != nil && !command.IsProtocolError(err) {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to submit line: %w", err)
			}
			if err := flushEvents(); err != nil {
				return fmt.Errorf("failed to write to %s: %w", l.name, err)
			}
			if err := writeLines(w, replies...); err != nil {
				return fmt.Errorf("failed to write to %s: %w", l.name, err)
			}

		case <-ready:
			if err := flushEvents(); err != nil {
				return fmt.Errorf("failed to write to %s: %w", l.name, err)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write to %s: %w", l.name, err)
			}
		}
	}
}

// readLines sends each line without its terminator. A line longer than
// MaxLineLength is discarded and reading continues with the next one.
func (l *Link) readLines(ctx context.Context, lines chan<- string) error {
	r := bufio.NewReaderSize(l.rw, MaxLineLength)
	for {
		raw, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			discarded := len(raw)
			for errors.Is(err, bufio.ErrBufferFull) {
				raw, err = r.ReadSlice('\n')
				discarded += len(raw)
			}
			l.logger.Warn("Discarding overlong line",
				zap.Int("bytes", discarded),
				zap.Int("limit", MaxLineLength))
			if err != nil {
				return err
			}
			continue
		}

		if len(raw) > 0 {
			select {
			case lines <- strings.TrimRight(string(raw), "\r\n"):
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			return err
		}
	}
}

func writeLines(w *bufio.Writer, lines ...string) error {
	for _, line := range lines {
		if _, err := w.WriteString(line + lineEnding); err != nil {
			return err
		}
	}
	return w.Flush()
}

type stdio struct {
	io.Reader
	io.Writer
}

// Stdio returns a stream over the process's stdin and stdout.
func Stdio() io.ReadWriter {
	return stdio{Reader: os.Stdin, Writer: os.Stdout}
}
