package modbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller keeps a Bank's process image in sync with the coupler and
// reconnects after transport errors.
type Poller struct {
	bank     *Bank
	client   *Client
	address  string
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	healthy  bool
	checked  bool
	mu       sync.Mutex
}

func NewPoller(bank *Bank, client *Client, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return &Poller{
		bank:     bank,
		client:   client,
		address:  client.address,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.wg.Add(1)

	go p.pollLoop()

	p.logger.Info("Poller started",
		zap.String("address", p.address),
		zap.Duration("interval", p.interval))

	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.client.Close()
	p.logger.Info("Poller stopped", zap.String("address", p.address))
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), max(p.interval, 50*time.Millisecond))
	defer cancel()

	err := p.client.Connect(ctx)
	if err == nil {
		err = p.bank.Sync(ctx, p.client)
	}
	p.setHealthy(err)
}

// setHealthy logs only on transitions so a dead coupler does not flood the log.
func (p *Poller) setHealthy(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	first := !p.checked
	p.checked = true

	switch {
	case err != nil && (p.healthy || first):
		p.healthy = false
		p.logger.Error("Modbus sync failed", zap.String("address", p.address), zap.Error(err))
	case err != nil:
		p.logger.Debug("Modbus sync failed", zap.String("address", p.address), zap.Error(err))
	case err == nil && !p.healthy:
		p.healthy = true
		p.logger.Info("Modbus sync healthy", zap.String("address", p.address))
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Healthy reports whether the last sync succeeded.
func (p *Poller) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}
