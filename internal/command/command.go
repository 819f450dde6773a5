// Package command parses and dispatches the single-line host protocol.
//
// A line is "<verb><space-optional><arg1><space><arg2>": a one-character verb
// followed by up to two runs of decimal digits. Missing arguments are zero.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/KevinKickass/OpenNosePort/internal/station"
)

// Verb is the one-character command code.
type Verb byte

const (
	VerbHandshake          Verb = '^'
	VerbNew                Verb = 'N'
	VerbRewardDuration     Verb = 'D'
	VerbRewardActivation   Verb = 'A'
	VerbSingleReward       Verb = 'S'
	VerbDeliverReward      Verb = 'R'
	VerbRewardEnablePin    Verb = 'W'
	VerbLedPin             Verb = 'L'
	VerbLedOn              Verb = 'O'
	VerbLedOff             Verb = 'F'
	VerbLaserPin           Verb = 'P'
	VerbLaserDelay         Verb = 'Y'
	VerbLaserEndTrigger    Verb = 'G'
	VerbLaserStimDuration  Verb = 'T'
	VerbLaserPulseDuration Verb = 'U'
	VerbLaserPulsePeriod   Verb = 'I'
	VerbLaserActivation    Verb = 'V'
)

func (v Verb) String() string { return string(rune(v)) }

// Command is one parsed protocol line.
type Command struct {
	Verb Verb
	Arg1 uint32
	Arg2 uint32
	// Line is the trimmed input, echoed back in error replies.
	Line string
}

// StationID returns arg1 as a station id.
func (c Command) StationID() int { return int(c.Arg1) }

// Flag returns arg2 as a boolean; any non-zero value is true.
func (c Command) Flag() bool { return c.Arg2 != 0 }

var (
	ErrEmptyCommand     = errors.New("emptyMessage")
	ErrUnknownVerb      = errors.New("unknownMessage")
	ErrInvalidStationID = errors.New("badPortNumber")
)

// Error is a protocol error. Its Error text is the exact reply line.
type Error struct {
	Kind  error
	Line  string
	cause error
}

func (e *Error) Error() string {
	if e.Kind == ErrEmptyCommand {
		return "# " + e.Kind.Error()
	}
	return fmt.Sprintf("# %s: \"%s\"", e.Kind.Error(), e.Line)
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

// Parse splits a line into verb and arguments. Unknown verbs are rejected
// here, before any station is looked up.
func Parse(raw string) (Command, error) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Command{}, &Error{Kind: ErrEmptyCommand}
	}

	cmd := Command{Verb: Verb(line[0]), Line: line}
	rest := strings.TrimSpace(line[1:])
	cmd.Arg1, rest = leadingNumber(rest)
	cmd.Arg2, _ = leadingNumber(strings.TrimSpace(rest))

	if _, ok := handlers[cmd.Verb]; !ok {
		return cmd, &Error{Kind: ErrUnknownVerb, Line: line}
	}
	return cmd, nil
}

// leadingNumber consumes a run of ASCII digits. An empty run, or one that
// does not fit in 32 bits, reads as zero.
func leadingNumber(s string) (uint32, string) {
	end := strings.IndexFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || !unicode.IsDigit(r)
	})
	if end < 0 {
		end = len(s)
	}
	n, err := strconv.ParseUint(s[:end], 10, 32)
	if err != nil {
		return 0, s[end:]
	}
	return uint32(n), s[end:]
}

type handler func(*station.Station, Command)

// handlers covers every addressed verb. Handshake and New are handled by the
// interpreter directly but appear here so Parse knows them.
var handlers = map[Verb]handler{
	VerbHandshake:          nil,
	VerbNew:                nil,
	VerbRewardDuration:     func(s *station.Station, c Command) { s.SetRewardDuration(c.Arg2) },
	VerbRewardActivation:   func(s *station.Station, c Command) { s.SetActivated(c.Flag()) },
	VerbSingleReward:       func(s *station.Station, c Command) { s.SetSingleReward(c.Flag()) },
	VerbDeliverReward:      func(s *station.Station, c Command) { s.DeliverReward() },
	VerbRewardEnablePin:    func(s *station.Station, c Command) { s.SetRewardEnableInput(pinArg(c)) },
	VerbLedPin:             func(s *station.Station, c Command) { s.SetLedPin(pinArg(c)) },
	VerbLedOn:              func(s *station.Station, c Command) { s.LedOn() },
	VerbLedOff:             func(s *station.Station, c Command) { s.LedOff() },
	VerbLaserPin:           func(s *station.Station, c Command) { s.SetLaserPin(pinArg(c)) },
	VerbLaserDelay:         func(s *station.Station, c Command) { s.SetLaserDelay(c.Arg2) },
	VerbLaserEndTrigger:    func(s *station.Station, c Command) { s.SetLaserEndTrigger(c.Arg2) },
	VerbLaserStimDuration:  func(s *station.Station, c Command) { s.SetLaserStimDuration(c.Arg2) },
	VerbLaserPulseDuration: func(s *station.Station, c Command) { s.SetLaserPulseDuration(c.Arg2) },
	VerbLaserPulsePeriod:   func(s *station.Station, c Command) { s.SetLaserPulsePeriod(c.Arg2) },
	VerbLaserActivation:    func(s *station.Station, c Command) { s.SetLaserActive(c.Flag()) },
}
