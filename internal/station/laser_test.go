package station

import (
	"testing"

	"github.com/KevinKickass/OpenNosePort/internal/pins"
)

func configureLaser(s *Station, pin pins.Pin, trigger EndTrigger, delay, stim, pulse, period uint32) {
	s.SetLaserPin(pin)
	s.SetLaserEndTrigger(uint32(trigger))
	s.SetLaserDelay(delay)
	s.SetLaserStimDuration(stim)
	s.SetLaserPulseDuration(pulse)
	s.SetLaserPulsePeriod(period)
	s.SetLaserActive(true)
}

func TestLaserPulseSchedule(t *testing.T) {
	const start = 500
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)
	configureLaser(s, 9, EndTimed, 0, 50, 10, 20)

	r.sense(t, 2, true)
	if !s.StimInProgress() || r.bank.Level(9) {
		t.Fatal("stim should start with the laser off")
	}

	for offset := uint32(1000); offset < 50000; offset += 1000 {
		r.tickAt(start, offset)
		want := offset%20000 < 10000
		if r.bank.Level(9) != want || s.LaserOn() != want {
			t.Fatalf("laser at %dus = %v, want %v", offset, r.bank.Level(9), want)
		}
	}

	r.tickAt(start, 50000)
	if s.StimInProgress() || r.bank.Level(9) {
		t.Error("stim should end at the stim duration")
	}
	assertLines(t, r.events.Lines(), "N 1", "I 1", "L 1", "l 1")
}

func TestLaserDelay(t *testing.T) {
	const start = 0
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)
	configureLaser(s, 9, EndTimed, 20, 10, 10, 10)

	r.sense(t, 2, true)
	r.tickAt(start, 20000)
	if r.bank.Level(9) || s.StimPhase() != PhaseDelaying {
		t.Error("laser must stay off through the delay")
	}
	r.tickAt(start, 20001)
	if !r.bank.Level(9) || s.StimPhase() != PhasePulsing {
		t.Error("laser should turn on once the delay has passed")
	}
	r.tickAt(start, 30000)
	if s.StimInProgress() {
		t.Error("stim should end stim-duration after the delay")
	}
}

func TestBackToBackPulsesDoNotGlitch(t *testing.T) {
	const start = 0
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)
	configureLaser(s, 9, EndTimed, 0, 100, 10, 10)

	r.sense(t, 2, true)
	r.tickAt(start, 1)
	writes := r.bank.WriteCount(9)

	for offset := uint32(10000); offset < 100000; offset += 10000 {
		r.tickAt(start, offset)
		if !r.bank.Level(9) {
			t.Fatalf("laser dropped at pulse boundary %dus", offset)
		}
	}
	if r.bank.WriteCount(9) != writes {
		t.Errorf("laser written %d extra times, want none", r.bank.WriteCount(9)-writes)
	}
}

func TestStimEndsOnSenseCleared(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)
	configureLaser(s, 9, EndOnSenseCleared, 0, 1000, 0, 0)

	r.sense(t, 2, true)
	r.clock.Advance(5000)
	r.registry.PollAll()
	if !r.bank.Level(9) {
		t.Fatal("continuous stim should be on")
	}

	r.sense(t, 2, false)
	if s.StimInProgress() || r.bank.Level(9) {
		t.Error("exit should end an on-clear stim")
	}
	assertLines(t, r.events.Lines(), "N 1", "I 1", "L 1", "O 1", "l 1")
}

func TestNonTimedStimTimesOut(t *testing.T) {
	const start = 0
	r := newRig(t, 4, start)
	s := r.registry.Create(2, 3)
	configureLaser(s, 9, EndOnSenseCleared, 0, 30, 0, 0)

	r.sense(t, 2, true)
	r.tickAt(start, 29999)
	if !s.StimInProgress() {
		t.Fatal("stim ended before its max duration")
	}
	r.tickAt(start, 30000)
	if s.StimInProgress() {
		t.Fatal("stim should time out at its max duration")
	}
	assertLines(t, r.events.Lines(), "N 1", "I 1", "L 1", "l 1", "T 1")
}

func TestBroadcastEndsOtherStimBeforeOwnStart(t *testing.T) {
	r := newRig(t, 4, 0)
	a := r.registry.Create(2, 3)
	b := r.registry.Create(5, 6)
	configureLaser(a, 4, EndOnSenseAsserted, 0, 1000, 0, 0)
	configureLaser(b, 7, EndOnSenseAsserted, 0, 1000, 0, 0)

	r.sense(t, 5, true)
	if !b.StimInProgress() {
		t.Fatal("entry at B should start B's stim")
	}
	r.events.Reset()

	r.sense(t, 2, true)
	if b.StimInProgress() {
		t.Error("entry at A should end B's on-entry stim")
	}
	if !a.StimInProgress() {
		t.Error("A's own stim was cancelled by its own broadcast")
	}
	assertLines(t, r.events.Lines(), "I 1", "l 2", "L 1")

	// Re-entry at A ends the old stim and starts a fresh one.
	r.events.Reset()
	r.sense(t, 2, false)
	r.sense(t, 2, true)
	if !a.StimInProgress() {
		t.Error("re-entry should leave a fresh stim running")
	}
	assertLines(t, r.events.Lines(), "O 1", "I 1", "l 1", "L 1")
}

func TestPulseCursorIsPerStation(t *testing.T) {
	const start = 0
	r := newRig(t, 4, start)
	a := r.registry.Create(2, 3)
	b := r.registry.Create(5, 6)
	configureLaser(a, 4, EndTimed, 0, 50, 10, 20)
	configureLaser(b, 7, EndTimed, 0, 50, 5, 10)

	r.sense(t, 2, true)
	for offset := uint32(1000); offset < 50000; offset += 1000 {
		r.clock.Set(start + offset)
		if offset == 25000 {
			r.bank.SetInput(5, true)
		}
		r.registry.PollAll()
		want := offset%20000 < 10000
		if a.LaserOn() != want {
			t.Fatalf("station A laser at %dus = %v, want %v", offset, a.LaserOn(), want)
		}
	}
	if !b.StimInProgress() {
		t.Error("station B stim should be running")
	}
}

func TestLaserArmingRequiresPin(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)

	s.SetLaserActive(true)
	if s.LaserEnabled() {
		t.Error("laser armed without a pin")
	}
	s.StartStim()
	if s.StimInProgress() {
		t.Error("stim started without a pin")
	}

	configureLaser(s, 9, EndTimed, 0, 100, 0, 0)
	r.sense(t, 2, true)
	if !s.StimInProgress() {
		t.Fatal("stim should be running")
	}

	s.SetLaserPin(0)
	if s.LaserEnabled() || s.StimInProgress() || r.bank.Level(9) {
		t.Error("detaching the laser should end the stim and disarm it")
	}
}

func TestEndTriggerIgnoresUnknownKinds(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)
	s.SetLaserEndTrigger(2)
	s.SetLaserEndTrigger(7)

	if got := s.Snapshot().EndTrigger; got != EndOnSenseAsserted.String() {
		t.Errorf("EndTrigger = %s, want %s", got, EndOnSenseAsserted)
	}
}

func TestEndStimIsIdempotent(t *testing.T) {
	r := newRig(t, 4, 0)
	s := r.registry.Create(2, 3)
	configureLaser(s, 9, EndTimed, 0, 100, 0, 0)
	r.sense(t, 2, true)

	s.EndStim()
	s.EndStim()
	if s.StimInProgress() || s.LaserOn() {
		t.Error("stim should be idle")
	}
	assertLines(t, r.events.Lines(), "N 1", "I 1", "L 1", "l 1", "l 1")
}
