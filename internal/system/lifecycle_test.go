package system

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/config"
	"github.com/KevinKickass/OpenNosePort/internal/interfaces"
	"github.com/KevinKickass/OpenNosePort/internal/profiles"
	"github.com/KevinKickass/OpenNosePort/internal/storage"
	"github.com/KevinKickass/OpenNosePort/internal/streaming"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const boxProfile = `version: 1
name: box
stations:
  - sense_pin: 2
    reward_pin: 3
    reward: {duration_ms: 20, active: true}
  - sense_pin: 4
    reward_pin: 5
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "box.yaml"), []byte(boxProfile), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	cfg.Server.HTTPPort = 0
	cfg.Server.GRPCPort = 0
	cfg.Transport.Kind = "none"
	cfg.IO.Backend = "sim"
	cfg.Database.Enabled = false
	cfg.Auth.APIKeyHash = ""
	cfg.Profiles.SearchPaths = []string{dir}
	cfg.Rig.Capacity = 4
	return cfg
}

func startSystem(t *testing.T, cfg *config.Config) *LifecycleManager {
	t.Helper()
	lm, err := NewLifecycleManager(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.Start(ctx); err != nil {
		lm.Shutdown(ctx)
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lm.Shutdown(ctx)
	})
	return lm
}

// loopback turns a wildcard listen address into a dialable one.
func loopback(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad address %q: %v", addr, err)
	}
	return net.JoinHostPort("127.0.0.1", port)
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateRunning, StateApplyingProfile, true},
		{StateApplyingProfile, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRunning, false},
		{StateInitializing, StateApplyingProfile, false},
		{StateRunning, StateStopped, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateTransition(%s, %s) = %v, want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestStartupProfileAndServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rig.Profile = "box"
	lm := startSystem(t, cfg)

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" || status.Rig.Stations != 2 || status.Profile != "box" {
		t.Fatalf("status = %+v", status)
	}

	resp, err := http.Get("http://" + loopback(t, lm.RESTAddr()) + "/api/v1/stations")
	if err != nil {
		t.Fatalf("GET stations failed: %v", err)
	}
	defer resp.Body.Close()
	var list struct {
		Stations []map[string]any `json:"stations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Stations) != 2 || list.Stations[0]["reward_duration_us"] != float64(20000) {
		t.Errorf("stations = %v", list.Stations)
	}

	conn, err := grpc.NewClient(loopback(t, lm.GRPCAddr()), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	replies, err := streaming.NewClient(conn).Execute(ctx, "^")
	if err != nil || len(replies) != 1 || replies[0] != "^" {
		t.Errorf("Execute(^) = %q, %v", replies, err)
	}
}

func TestApplyProfileAppendsStations(t *testing.T) {
	lm := startSystem(t, testConfig(t))
	ctx := context.Background()

	if _, err := lm.Controller().Submit(ctx, "N 10 11"); err != nil {
		t.Fatal(err)
	}
	lines, err := lm.ApplyProfile(ctx, "box")
	if err != nil {
		t.Fatalf("ApplyProfile failed: %v", err)
	}
	if lines[1] != "D 2 20" {
		t.Errorf("second line = %q, want stations to start at id 2", lines[1])
	}
	if lm.State() != StateRunning {
		t.Errorf("state = %s after apply", lm.State())
	}

	// 3 of 4 slots used
	if _, err := lm.ApplyProfile(ctx, "box"); !errors.Is(err, profiles.ErrInvalidProfile) {
		t.Errorf("over-capacity apply error = %v, want ErrInvalidProfile", err)
	}
	if _, err := lm.ApplyProfile(ctx, "missing"); !errors.Is(err, profiles.ErrProfileNotFound) {
		t.Errorf("missing profile error = %v", err)
	}
}

func TestApplyProfileWhileHostCreatesStations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rig.Capacity = 32
	lm := startSystem(t, cfg)
	ctx := context.Background()

	hostDone := make(chan error, 1)
	go func() {
		for i := 0; i < 20; i++ {
			if _, err := lm.Controller().Submit(ctx, "N 40 41"); err != nil {
				hostDone <- err
				return
			}
		}
		hostDone <- nil
	}()
	for i := 0; i < 5; i++ {
		if _, err := lm.ApplyProfile(ctx, "box"); err != nil {
			t.Fatalf("ApplyProfile #%d failed: %v", i+1, err)
		}
	}
	if err := <-hostDone; err != nil {
		t.Fatalf("host Submit failed: %v", err)
	}

	list, err := lm.Controller().Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Stations) != 30 {
		t.Fatalf("got %d stations, want 30", len(list.Stations))
	}
	rewarded := 0
	for _, s := range list.Stations {
		switch s.SensePin {
		case 2:
			rewarded++
			if s.RewardDurationUs != 20000 || !s.RewardEnabled {
				t.Errorf("profile station %d lost its settings: %+v", s.ID, s)
			}
		case 40:
			if s.RewardDurationUs != 0 || s.RewardEnabled {
				t.Errorf("host station %d picked up profile settings: %+v", s.ID, s)
			}
		}
	}
	if rewarded != 5 {
		t.Errorf("found %d rewarded profile stations, want 5", rewarded)
	}
}

func TestApplyProfileRejectsPaths(t *testing.T) {
	lm := startSystem(t, testConfig(t))
	path := filepath.Join(lm.Config().Profiles.SearchPaths[0], "box.yaml")

	for _, name := range []string{path, "../box", "sub/box"} {
		if _, err := lm.ApplyProfile(context.Background(), name); !errors.Is(err, profiles.ErrProfileNotFound) {
			t.Errorf("ApplyProfile(%q) error = %v, want ErrProfileNotFound", name, err)
		}
	}
}

func TestSimBankAndStorageDisabled(t *testing.T) {
	lm := startSystem(t, testConfig(t))

	if lm.SimBank() == nil {
		t.Fatal("sim backend should expose its bank")
	}
	if _, err := lm.ListEvents(context.Background(), storage.EventFilter{}); !errors.Is(err, interfaces.ErrStorageDisabled) {
		t.Errorf("ListEvents error = %v, want ErrStorageDisabled", err)
	}
	if lm.GetCurrentStatus().Recording {
		t.Error("recording should be off")
	}
}

func TestShutdown(t *testing.T) {
	lm := startSystem(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case <-lm.Done():
	default:
		t.Error("Done not closed after Shutdown")
	}
	if lm.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", lm.State())
	}
	if _, err := lm.ApplyProfile(ctx, "box"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("ApplyProfile after shutdown = %v, want ErrNotRunning", err)
	}
	if err := lm.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}
