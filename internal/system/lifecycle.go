package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/api/rest"
	"github.com/KevinKickass/OpenNosePort/internal/api/websocket"
	"github.com/KevinKickass/OpenNosePort/internal/auth"
	"github.com/KevinKickass/OpenNosePort/internal/clock"
	"github.com/KevinKickass/OpenNosePort/internal/config"
	"github.com/KevinKickass/OpenNosePort/internal/interfaces"
	"github.com/KevinKickass/OpenNosePort/internal/machine"
	"github.com/KevinKickass/OpenNosePort/internal/modbus"
	"github.com/KevinKickass/OpenNosePort/internal/pins"
	"github.com/KevinKickass/OpenNosePort/internal/profiles"
	"github.com/KevinKickass/OpenNosePort/internal/storage"
	"github.com/KevinKickass/OpenNosePort/internal/streaming"
	"github.com/KevinKickass/OpenNosePort/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const (
	subscriberBuffer = 1024
	grpcGracePeriod  = 2 * time.Second
)

var ErrNotRunning = errors.New("system not running")

// LifecycleManager owns every component of the process and brings them up
// and down in order.
type LifecycleManager struct {
	config      *config.Config
	logger      *zap.Logger
	controller  *machine.Controller
	bank        pins.Bank
	simBank     *pins.SimBank
	poller      *modbus.Poller
	loader      *profiles.Loader
	authService *auth.Service
	wsHub       *websocket.Hub

	storage  *storage.PostgresClient
	recorder *storage.Recorder

	linkCloser io.Closer
	restServer *rest.Server
	grpcServer *grpc.Server
	grpcAddr   net.Addr

	runCancel context.CancelFunc
	wg        sync.WaitGroup

	applyMu      sync.Mutex
	stateMu      sync.RWMutex
	currentState SystemState
	profile      string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	loader, err := profiles.NewLoader(cfg.Profiles.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile loader: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		loader:       loader,
		authService:  auth.NewService(cfg.Auth, logger.Named("auth")),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	switch cfg.IO.Backend {
	case "modbus":
		m := cfg.IO.Modbus
		bank := modbus.NewBank(uint16(m.InputCount), uint16(m.CoilCount), logger.Named("modbus"))
		client := modbus.NewClient(m.Address, uint8(m.UnitID), m.Timeout)
		lm.poller = modbus.NewPoller(bank, client, m.PollInterval, logger.Named("modbus"))
		lm.bank = bank
	default:
		lm.simBank = pins.NewSimBank()
		lm.bank = lm.simBank
	}

	lm.controller = machine.NewController(machine.Config{
		Capacity:     cfg.Rig.Capacity,
		PollInterval: cfg.Rig.PollInterval,
	}, clock.NewSystem(0), lm.bank, logger.Named("rig"))

	lm.wsHub = websocket.NewHub(logger.Named("websocket"), lm.authService, lm.controller)

	return lm, nil
}

// Start brings the system up. On error the caller should still call
// Shutdown to release whatever was started.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenNosePort",
		zap.String("io_backend", lm.config.IO.Backend),
		zap.String("transport", lm.config.Transport.Kind))

	runCtx, cancel := context.WithCancel(context.Background())
	lm.runCancel = cancel

	if lm.poller != nil {
		if err := lm.poller.Start(); err != nil {
			return lm.fail(fmt.Errorf("failed to start modbus poller: %w", err))
		}
	}

	lm.goRun("controller", func() error { return lm.controller.Run(runCtx) })
	select {
	case <-lm.controller.Started():
	case <-ctx.Done():
		return lm.fail(ctx.Err())
	}

	if ref := lm.config.Rig.Profile; ref != "" {
		profile, err := lm.loader.Open(ref)
		if err == nil {
			_, err = lm.applyProfile(ctx, profile)
		}
		if err != nil {
			return lm.fail(fmt.Errorf("failed to apply startup profile: %w", err))
		}
	}

	if lm.config.Database.Enabled {
		if err := lm.startRecorder(ctx, runCtx); err != nil {
			return lm.fail(err)
		}
	}

	wsEvents := lm.controller.Events().Subscribe("websocket", subscriberBuffer)
	lm.goRun("websocket hub", func() error {
		lm.wsHub.Run(runCtx)
		return nil
	})
	lm.goRun("websocket forwarder", func() error {
		defer wsEvents.Close()
		lm.wsHub.Forward(runCtx, wsEvents.C)
		return nil
	})

	if err := lm.startTransport(runCtx); err != nil {
		return lm.fail(err)
	}

	if err := lm.startGRPCServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start gRPC: %w", err))
	}

	if err := lm.startRESTServer(); err != nil {
		return lm.fail(fmt.Errorf("failed to start REST API: %w", err))
	}

	if err := lm.setState(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.String("grpc_address", lm.GRPCAddr()),
		zap.String("http_address", lm.RESTAddr()),
		zap.Bool("auth_enabled", lm.authService.Enabled()),
		zap.Bool("recording", lm.recorder != nil))

	return nil
}

// goRun runs fn in a tracked goroutine and logs a non-nil result.
func (lm *LifecycleManager) goRun(name string, fn func() error) {
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		if err := fn(); err != nil {
			lm.logger.Error("Component failed", zap.String("component", name), zap.Error(err))
		}
	}()
}

func (lm *LifecycleManager) fail(err error) error {
	lm.logger.Error("Startup failed", zap.Error(err))
	lm.setState(StateError)
	return err
}

func (lm *LifecycleManager) startRecorder(ctx, runCtx context.Context) error {
	db, err := storage.NewPostgresClient(ctx, lm.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	lm.storage = db

	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}

	lm.recorder = storage.NewRecorder(db,
		lm.config.Database.BatchSize,
		lm.config.Database.FlushInterval,
		lm.logger.Named("recorder"))

	queue := lm.controller.Events().SubscribeQueue("recorder")
	lm.goRun("recorder", func() error {
		defer queue.Close()
		return lm.recorder.Run(runCtx, queue)
	})
	return nil
}

func (lm *LifecycleManager) startTransport(runCtx context.Context) error {
	var (
		rw   io.ReadWriter
		name string
	)

	switch lm.config.Transport.Kind {
	case "none":
		return nil
	case "serial":
		port, err := transport.OpenSerial(transport.SerialConfig{
			Device:   lm.config.Transport.Device,
			BaudRate: lm.config.Transport.BaudRate,
		})
		if err != nil {
			return fmt.Errorf("failed to open serial port: %w", err)
		}
		lm.linkCloser = port
		rw, name = port, lm.config.Transport.Device
	default:
		rw, name = transport.Stdio(), "stdio"
	}

	link := transport.NewLink(name, rw, lm.controller, lm.logger.Named("transport"))
	queue := lm.controller.Events().SubscribeQueue("transport")
	lm.goRun("transport", func() error {
		defer queue.Close()
		return link.Serve(runCtx, queue)
	})
	return nil
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	lm.grpcAddr = lis.Addr()

	lm.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(streaming.LoggingInterceptor(lm.logger.Named("grpc"))))
	streaming.RegisterRigServer(lm.grpcServer, streaming.NewRigService(lm.controller, lm.logger.Named("grpc")))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", streaming.ServiceName))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm, lm.logger.Named("rest"), lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		if shutdownErr != nil {
			lm.setState(StateError)
		} else {
			lm.setState(StateStopped)
		}
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} { return lm.shutdownChan }

// gracefulShutdown stops the outer surfaces first, then the control loop
// and its consumers, then the I/O backend.
func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}

	if lm.grpcServer != nil {
		lm.logger.Info("Stopping gRPC server")
		stopped := make(chan struct{})
		go func() {
			lm.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(grpcGracePeriod):
			lm.grpcServer.Stop()
			<-stopped
		case <-ctx.Done():
			lm.grpcServer.Stop()
			<-stopped
		}
	}

	if lm.runCancel != nil {
		lm.runCancel()
	}
	if lm.linkCloser != nil {
		if err := lm.linkCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport close failed: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded"))
	}

	if lm.poller != nil {
		lm.poller.Stop()
	}
	if lm.storage != nil {
		lm.storage.Close()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

// ApplyProfile loads a profile from the search paths and creates its
// stations after the ones that already exist.
func (lm *LifecycleManager) ApplyProfile(ctx context.Context, name string) ([]string, error) {
	if lm.State() != StateRunning {
		return nil, ErrNotRunning
	}
	profile, err := lm.loader.Load(name)
	if err != nil {
		return nil, err
	}

	if err := lm.setState(StateApplyingProfile); err != nil {
		return nil, err
	}
	defer lm.setState(StateRunning)

	return lm.applyProfile(ctx, profile)
}

// applyProfile compiles and runs the profile in one turn of the control
// loop, so station ids cannot shift under it.
func (lm *LifecycleManager) applyProfile(ctx context.Context, profile *profiles.Profile) ([]string, error) {
	lm.applyMu.Lock()
	defer lm.applyMu.Unlock()

	lines, err := lm.controller.SubmitBatch(ctx, func(stations, capacity int) ([]string, error) {
		if free := capacity - stations; len(profile.Stations) > free {
			return nil, fmt.Errorf("%w: %d stations requested, %d free", profiles.ErrInvalidProfile, len(profile.Stations), free)
		}
		return profile.Compile(stations + 1)
	})
	if err != nil {
		return lines, fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	lm.stateMu.Lock()
	lm.profile = profile.Name
	lm.stateMu.Unlock()

	lm.logger.Info("Profile applied",
		zap.String("profile", profile.Name),
		zap.Int("stations", len(profile.Stations)),
		zap.Int("commands", len(lines)))
	return lines, nil
}

func (lm *LifecycleManager) setState(state SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Rejected state change", zap.Error(err))
		return err
	}
	lm.currentState = state
	lm.logger.Debug("System state changed", zap.Stringer("state", state))
	return nil
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state, profile := lm.currentState, lm.profile
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            state.String(),
		Rig:              lm.controller.GetStatus(),
		IOBackend:        lm.config.IO.Backend,
		IOHealthy:        lm.poller == nil || lm.poller.Healthy(),
		Transport:        lm.config.Transport.Kind,
		Recording:        lm.recorder != nil,
		Profile:          profile,
		WebSocketClients: lm.wsHub.GetClientCount(),
	}
	if lm.recorder != nil {
		status.SessionID = lm.recorder.SessionID().String()
	}
	return status
}

func (lm *LifecycleManager) ListEvents(ctx context.Context, filter storage.EventFilter) ([]storage.EventRecord, error) {
	if lm.storage == nil {
		return nil, interfaces.ErrStorageDisabled
	}
	return lm.storage.ListEvents(ctx, filter)
}

func (lm *LifecycleManager) PinStates() []pins.State {
	if inspector, ok := lm.bank.(pins.Inspector); ok {
		return inspector.Snapshot()
	}
	return nil
}

func (lm *LifecycleManager) ListProfiles() []profiles.Entry { return lm.loader.List() }

func (lm *LifecycleManager) SimBank() *pins.SimBank { return lm.simBank }

func (lm *LifecycleManager) Controller() *machine.Controller { return lm.controller }

func (lm *LifecycleManager) Config() *config.Config { return lm.config }

func (lm *LifecycleManager) RESTAddr() string {
	if lm.restServer == nil {
		return ""
	}
	return lm.restServer.Addr()
}

func (lm *LifecycleManager) GRPCAddr() string {
	if lm.grpcAddr == nil {
		return ""
	}
	return lm.grpcAddr.String()
}
