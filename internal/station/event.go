package station

import "fmt"

// Tag is the one-character code of an experiment record line.
type Tag byte

const (
	TagNew             Tag = 'N'
	TagRewardedEntry   Tag = 'D'
	TagUnrewardedEntry Tag = 'I'
	TagExit            Tag = 'O'
	TagManualReward    Tag = 'R'
	TagStimStart       Tag = 'L'
	TagStimEnd         Tag = 'l'
	TagStimTimeout     Tag = 'T'
)

func (t Tag) Name() string {
	switch t {
	case TagNew:
		return "new"
	case TagRewardedEntry:
		return "rewarded_entry"
	case TagUnrewardedEntry:
		return "unrewarded_entry"
	case TagExit:
		return "exit"
	case TagManualReward:
		return "manual_reward"
	case TagStimStart:
		return "stim_start"
	case TagStimEnd:
		return "stim_end"
	case TagStimTimeout:
		return "stim_timeout"
	default:
		return "unknown"
	}
}

// Event is one state transition of one station.
type Event struct {
	Tag       Tag
	StationID int
	// AtMicros is the counter value when the event was emitted.
	AtMicros uint32
}

// String renders the record line exactly as written to the host: "<tag> <id>".
func (e Event) String() string {
	return fmt.Sprintf("%c %d", e.Tag, e.StationID)
}

// Sink receives events synchronously, in emission order.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Sinks fans one event out to several sinks in order.
type Sinks []Sink

func (s Sinks) Emit(e Event) {
	for _, sink := range s {
		sink.Emit(e)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Emit(e Event) { r.Events = append(r.Events, e) }

// Lines returns the recorded events as wire lines.
func (r *Recorder) Lines() []string {
	lines := make([]string, len(r.Events))
	for i, e := range r.Events {
		lines[i] = e.String()
	}
	return lines
}

func (r *Recorder) Reset() { r.Events = nil }
