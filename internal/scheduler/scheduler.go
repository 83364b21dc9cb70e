// Package scheduler implements the Scheduler (spec.md §4.8): a
// single-threaded loop that wakes on a configured cadence, invokes the
// bundler for every domain, and advances the persisted "last-active"
// timestamp only on success.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opaquemail/gateway/framework/log"
)

// Gateway is the single entry point the scheduler drives (spec.md §4.3,
// "Single entry point BundleAndPad()").
type Gateway interface {
	BundleAndPad() error
}

// Notifier reports scheduler-level failures (spec.md §7, "Scheduler
// exception").
type Notifier interface {
	OperatorAlert(domain, reason string) error
}

// Scheduler drives Gateway.BundleAndPad on a fixed cadence, persisting the
// last successful cycle's timestamp to statePath so cadence survives a
// restart.
type Scheduler struct {
	gateway   Gateway
	notifier  Notifier
	interval  time.Duration
	pollEvery time.Duration
	statePath string
	logger    log.Logger

	// encryptMetadata and bundleAndPad mirror gwconfig.Config's two master
	// kill-switches (spec.md §4.8 step 2: "ready = encrypt_metadata &&
	// bundle_and_pad && cadence elapsed"). Either being false suppresses
	// every cycle regardless of cadence.
	encryptMetadata bool
	bundleAndPad    bool
}

func New(gateway Gateway, notifier Notifier, interval time.Duration, statePath string, logger log.Logger, encryptMetadata, bundleAndPad bool) *Scheduler {
	pollEvery := interval / 6
	if pollEvery <= 0 || pollEvery > time.Minute {
		pollEvery = time.Minute
	}
	return &Scheduler{
		gateway:         gateway,
		notifier:        notifier,
		interval:        interval,
		pollEvery:       pollEvery,
		statePath:       statePath,
		logger:          logger,
		encryptMetadata: encryptMetadata,
		bundleAndPad:    bundleAndPad,
	}
}

// Run blocks until ctx is cancelled, implementing the state machine from
// spec.md §4.8: idle -> scanning -> ... -> idle, once per cadence tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// RunOnce performs a single readiness check and, if ready, one bundle
// cycle. Exposed for gatewayctl's "force a cycle" operator command.
func (s *Scheduler) RunOnce() error {
	return s.tick()
}

func (s *Scheduler) tick() error {
	if !s.encryptMetadata || !s.bundleAndPad {
		return nil
	}

	lastActive, err := s.readLastActive()
	if err != nil {
		s.logger.Error("scheduler: read last-active state", err)
		return err
	}

	if time.Since(lastActive) < s.interval {
		return nil
	}

	if err := s.gateway.BundleAndPad(); err != nil {
		s.logger.Error("scheduler: bundle cycle failed", err)
		if s.notifier != nil {
			s.notifier.OperatorAlert("*", err.Error())
		}
		return err
	}

	if err := s.writeLastActive(time.Now().UTC()); err != nil {
		s.logger.Error("scheduler: persist last-active state", err)
		return err
	}
	return nil
}

func (s *Scheduler) readLastActive() (time.Time, error) {
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		// Never run before: treat as long overdue so the first cycle
		// runs immediately.
		return time.Unix(0, 0), nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: read %s: %w", s.statePath, err)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse %s: %w", s.statePath, err)
	}
	return t, nil
}

func (s *Scheduler) writeLastActive(t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0700); err != nil {
		return fmt.Errorf("scheduler: mkdir: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.Format(time.RFC3339)), 0600); err != nil {
		return fmt.Errorf("scheduler: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.statePath)
}
