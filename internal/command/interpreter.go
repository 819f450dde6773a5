package command

import (
	"errors"

	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"github.com/KevinKickass/OpenNosePort/internal/station"
	"go.uber.org/zap"
)

const handshakeReply = "^"

// Interpreter executes protocol lines against a registry. It keeps no state
// of its own and must run on the goroutine that owns the registry.
type Interpreter struct {
	registry *station.Registry
	logger   *zap.Logger
}

func NewInterpreter(registry *station.Registry, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		registry: registry,
		logger:   logger,
	}
}

// Execute runs one line and returns the reply lines. Protocol errors are
// returned both as the error and as a "#" reply line; they never affect
// station state.
func (in *Interpreter) Execute(line string) ([]string, error) {
	cmd, err := Parse(line)
	if err != nil {
		in.logger.Debug("Command rejected", zap.String("line", line), zap.Error(err))
		return []string{err.Error()}, err
	}
	return in.Dispatch(cmd)
}

// Dispatch runs an already parsed command.
func (in *Interpreter) Dispatch(cmd Command) ([]string, error) {
	in.logger.Debug("Command",
		zap.Stringer("verb", cmd.Verb),
		zap.Uint32("arg1", cmd.Arg1),
		zap.Uint32("arg2", cmd.Arg2))

	switch cmd.Verb {
	case VerbHandshake:
		return []string{handshakeReply}, nil
	case VerbNew:
		in.registry.Create(pins.Pin(cmd.Arg1), pins.Pin(cmd.Arg2))
		return nil, nil
	}

	handle, ok := handlers[cmd.Verb]
	if !ok || handle == nil {
		err := &Error{Kind: ErrUnknownVerb, Line: cmd.Line}
		return []string{err.Error()}, err
	}

	s, err := in.registry.Lookup(cmd.StationID())
	if err != nil {
		perr := &Error{Kind: ErrInvalidStationID, Line: cmd.Line, cause: err}
		in.logger.Debug("Command rejected", zap.String("line", cmd.Line), zap.Error(err))
		return []string{perr.Error()}, perr
	}

	handle(s, cmd)
	return nil, nil
}

// IsProtocolError reports whether err came from parsing or addressing.
func IsProtocolError(err error) bool {
	var perr *Error
	return errors.As(err, &perr)
}

func pinArg(c Command) pins.Pin { return pins.Pin(c.Arg2) }
