/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command gatewayd runs the metadata-bundling gateway daemon: it holds the
// exclusive process lock, starts the scheduler, and serves until asked to
// stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/urfave/cli/v2"

	"github.com/opaquemail/gateway/framework/hooks"
	"github.com/opaquemail/gateway/framework/log"
	"github.com/opaquemail/gateway/framework/module"
	_ "github.com/opaquemail/gateway/internal/relay"

	"github.com/opaquemail/gateway/internal/gateway"
	"github.com/opaquemail/gateway/internal/gwconfig"
	"github.com/opaquemail/gateway/internal/history"
	"github.com/opaquemail/gateway/internal/keyring"
	"github.com/opaquemail/gateway/internal/lockfile"
	"github.com/opaquemail/gateway/internal/notices"
	"github.com/opaquemail/gateway/internal/packet"
	"github.com/opaquemail/gateway/internal/scheduler"
)

func main() {
	app := cli.NewApp()
	app.Name = "gatewayd"
	app.Usage = "metadata bundling and padding gateway"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Value: "/etc/gatewayd/gatewayd.conf",
			Usage: "path to configuration file",
		},
	}
	app.Action = runDaemon
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "start the daemon (default action)",
			Flags:  app.Flags,
			Action: runDaemon,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("gatewayd: fatal", err)
		os.Exit(1)
	}
}

func runDaemon(c *cli.Context) error {
	logger := log.DefaultLogger

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}

	lock, err := lockfile.Acquire(cfg.LockFile)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}
	defer lock.Release()

	ring, err := keyring.Load(cfg.KeyPath, cfg.ContactsDir, cfg.Domain, fmt.Sprintf("metadata@%s", cfg.Domain))
	if err != nil {
		return fmt.Errorf("gatewayd: load keyring: %w", err)
	}

	store := packet.New(cfg.QueueDir)

	relay, err := module.New("relay."+cfg.RelayMode, "relay", cfg.RelayArgs)
	if err != nil {
		return fmt.Errorf("gatewayd: %w", err)
	}

	hist, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		return fmt.Errorf("gatewayd: open history db: %w", err)
	}
	hooks.AddHook(hooks.EventShutdown, func() {
		if err := hist.Close(); err != nil {
			logger.Error("gatewayd: close history db", err)
		}
	})

	notifier := notices.New(relay, cfg.Domain, cfg.ErrorTag, cfg.OperatorNotify)

	gw := gateway.New(cfg, store, ring, relay, hist, notifier, logger)

	statePath := cfg.QueueDir + "/.last-active"
	sched := scheduler.New(gw, notifier, cfg.BundleFrequency.Interval(cfg.TestMode), statePath, logger, cfg.EncryptMetadata, cfg.BundleAndPad)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("gatewayd: received shutdown signal")
		hooks.RunHooks(hooks.EventShutdown)
		cancel()
	}()

	logger.Println("gatewayd: starting, domain =", cfg.Domain)
	sched.Run(ctx)
	return nil
}

func loadConfig(path string) (gwconfig.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return gwconfig.Config{}, fmt.Errorf("gatewayd: open config: %w", err)
	}
	defer f.Close()
	return gwconfig.Load(f, path)
}
