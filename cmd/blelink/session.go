package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/manager"
	"github.com/srg/blelink/pkg/config"
)

// bleAdapter is a device.Adapter that owns the radio.
type bleAdapter interface {
	device.Adapter
	Close() error
}

// newAdapter opens the platform radio.
var newAdapter = func(logger *logrus.Logger) (bleAdapter, error) {
	a, err := goble.New(logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// session is a running manager bound to the radio.
type session struct {
	mgr     *manager.Manager
	adapter bleAdapter
	cancel  context.CancelFunc
	done    <-chan struct{}
}

func startSession(cfg *config.Config, logger *logrus.Logger) (*session, error) {
	opts, err := cfg.ManagerOptions()
	if err != nil {
		return nil, err
	}
	adapter, err := newAdapter(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE adapter: %w", err)
	}

	mgr := manager.New(adapter, opts, logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		mgr:     mgr,
		adapter: adapter,
		cancel:  cancel,
		done:    mgr.Run(ctx),
	}, nil
}

// Close stops the manager loop and releases the radio.
func (s *session) Close() error {
	s.cancel()
	<-s.done
	return s.adapter.Close()
}

// signalContext is cancelled by Ctrl+C or SIGTERM, and after d when d > 0.
func signalContext(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	return ctx, func() {
		cancel()
		stop()
	}
}
