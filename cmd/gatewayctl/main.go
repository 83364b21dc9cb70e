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

// Command gatewayctl is the operator administration utility for gatewayd:
// inspecting the packet queue, forcing a bundle cycle, and managing peer
// metadata keys.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	_ "github.com/mattn/go-sqlite3"

	"github.com/opaquemail/gateway/framework/log"
	"github.com/opaquemail/gateway/framework/module"
	"github.com/opaquemail/gateway/internal/gateway"
	"github.com/opaquemail/gateway/internal/gwconfig"
	"github.com/opaquemail/gateway/internal/history"
	"github.com/opaquemail/gateway/internal/keyring"
	"github.com/opaquemail/gateway/internal/notices"
	"github.com/opaquemail/gateway/internal/packet"
	_ "github.com/opaquemail/gateway/internal/relay"
	"github.com/opaquemail/gateway/internal/scheduler"
)

func main() {
	app := cli.NewApp()
	app.Name = "gatewayctl"
	app.Usage = "metadata gateway administration utility"
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "configuration file to use",
			EnvVars: []string{"GATEWAYD_CONFIG"},
			Value:   "/etc/gatewayd/gatewayd.conf",
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:  "queue",
			Usage: "inspect the outbound packet queue",
			Subcommands: []*cli.Command{
				{
					Name:   "domains",
					Usage:  "list domains with pending packets",
					Action: queueDomains,
				},
				{
					Name:      "list",
					Usage:     "list packets queued for a domain",
					ArgsUsage: "DOMAIN",
					Action:    queueList,
				},
			},
		},
		{
			Name:   "cycle",
			Usage:  "force one bundle-and-pad cycle regardless of cadence",
			Action: forceCycle,
		},
		{
			Name:  "contacts",
			Usage: "manage peer metadata public keys",
			Subcommands: []*cli.Command{
				{
					Name:   "list",
					Usage:  "list known peer metadata addresses",
					Action: contactsList,
				},
				{
					Name:      "import",
					Usage:     "import a peer's armored metadata public key",
					ArgsUsage: "METADATA-ADDRESS ARMORED-KEY-FILE",
					Action:    contactsImport,
				},
				{
					Name:      "verify",
					Usage:     "mark a peer's on-file key as verified",
					ArgsUsage: "METADATA-ADDRESS",
					Action:    contactsVerify,
				},
			},
		},
		{
			Name:      "history",
			Usage:     "show delivered bundle history for a domain",
			ArgsUsage: "DOMAIN",
			Action:    showHistory,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (gwconfig.Config, error) {
	path := ctx.String("config")
	f, err := os.Open(path)
	if err != nil {
		return gwconfig.Config{}, cli.Exit(fmt.Sprintf("error: open config: %v", err), 2)
	}
	defer f.Close()
	cfg, err := gwconfig.Load(f, path)
	if err != nil {
		return gwconfig.Config{}, cli.Exit(fmt.Sprintf("error: parse config: %v", err), 2)
	}
	return cfg, nil
}

func queueDomains(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store := packet.New(cfg.QueueDir)
	domains, err := store.ListDomains()
	if err != nil {
		return err
	}
	for _, d := range domains {
		fmt.Println(d)
	}
	return nil
}

func queueList(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("usage: gatewayctl queue list DOMAIN", 2)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store := packet.New(cfg.QueueDir)
	packets, err := store.ListPackets(ctx.Args().First())
	if err != nil {
		return err
	}
	for _, p := range packets {
		fmt.Printf("%s\tfrom=%s\tto=%s\tcrypted=%v\n", p.ID, p.Addendum.From, p.Addendum.To, p.Addendum.Crypted)
	}
	return nil
}

func forceCycle(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	gw, closer, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer closeIfNeeded(closer)

	statePath := cfg.QueueDir + "/.last-active"
	// A zero interval makes the cadence check always pass.
	sched := scheduler.New(gw, nil, 0, statePath, log.DefaultLogger, cfg.EncryptMetadata, cfg.BundleAndPad)
	if err := sched.RunOnce(); err != nil {
		return cli.Exit(fmt.Sprintf("error: cycle failed: %v", err), 1)
	}
	fmt.Println("ok")
	return nil
}

func contactsList(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store := keyring.NewContactStore(cfg.ContactsDir)
	addrs, err := store.List()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		fmt.Println(a)
	}
	return nil
}

func contactsImport(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.Exit("usage: gatewayctl contacts import METADATA-ADDRESS ARMORED-KEY-FILE", 2)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	store := keyring.NewContactStore(cfg.ContactsDir)
	if err := store.Import(ctx.Args().First(), string(data)); err != nil {
		return cli.Exit(fmt.Sprintf("error: import: %v", err), 1)
	}
	fmt.Println("imported", ctx.Args().First())
	return nil
}

func contactsVerify(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("usage: gatewayctl contacts verify METADATA-ADDRESS", 2)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	store := keyring.NewContactStore(cfg.ContactsDir)
	if err := store.MarkVerified(ctx.Args().First()); err != nil {
		return cli.Exit(fmt.Sprintf("error: verify: %v", err), 1)
	}
	fmt.Println("verified", ctx.Args().First())
	return nil
}

func showHistory(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.Exit("usage: gatewayctl history DOMAIN", 2)
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	hist, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		return err
	}
	defer hist.Close()

	entries, err := hist.ForDomain(ctx.Args().First())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s -> %s\tencrypted=%v\tsigners=%v\n", e.SentAt.Format("2006-01-02T15:04:05Z07:00"), e.OriginalFrom, e.OriginalTo, e.Encrypted, e.Signers)
	}
	return nil
}

// buildGateway wires up the same pieces gatewayd does, for commands that
// need to drive a live bundle cycle rather than just read queue/contact
// state from disk. The returned closer must be closed when done.
func buildGateway(cfg gwconfig.Config) (*gateway.Gateway, io.Closer, error) {
	ring, err := keyring.Load(cfg.KeyPath, cfg.ContactsDir, cfg.Domain, fmt.Sprintf("metadata@%s", cfg.Domain))
	if err != nil {
		return nil, nil, fmt.Errorf("load keyring: %w", err)
	}

	store := packet.New(cfg.QueueDir)

	relay, err := module.New("relay."+cfg.RelayMode, "relay", cfg.RelayArgs)
	if err != nil {
		return nil, nil, err
	}

	hist, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open history db: %w", err)
	}

	notifier := notices.New(relay, cfg.Domain, cfg.ErrorTag, cfg.OperatorNotify)

	return gateway.New(cfg, store, ring, relay, hist, notifier, log.DefaultLogger), hist, nil
}

func closeIfNeeded(i interface{}) {
	if c, ok := i.(io.Closer); ok {
		c.Close()
	}
}
