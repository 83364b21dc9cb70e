// Package gateway wires the packet store, resolver, bundler, wrapper,
// relay, history recorder and key-exchange coordinator into the single
// BundleAndPad() entry point (spec.md §1, §4.3), mirroring the role
// goodcrypto's Bundle class plays for the Python original and the way
// maddy's dispatcher wires modules together for a delivery pipeline.
package gateway

import (
	"fmt"

	"github.com/opaquemail/gateway/framework/exterrors"
	"github.com/opaquemail/gateway/framework/log"
	"github.com/opaquemail/gateway/framework/module"
	"github.com/opaquemail/gateway/internal/bundler"
	"github.com/opaquemail/gateway/internal/gwconfig"
	"github.com/opaquemail/gateway/internal/history"
	"github.com/opaquemail/gateway/internal/keyring"
	"github.com/opaquemail/gateway/internal/metadata"
	"github.com/opaquemail/gateway/internal/notices"
	"github.com/opaquemail/gateway/internal/packet"
	"github.com/opaquemail/gateway/internal/wrapper"
)

// Gateway orchestrates one full bundle cycle across every peer domain with
// pending packets.
type Gateway struct {
	cfg      gwconfig.Config
	packets  *packet.Store
	resolver *metadata.Resolver
	coord    *metadata.Coordinator
	wrapper  *wrapper.Wrapper
	relay    module.Relay
	history  *history.Recorder
	notifier *notices.Notifier
	logger   log.Logger
}

func New(cfg gwconfig.Config, packets *packet.Store, ring *keyring.Ring, relay module.Relay,
	hist *history.Recorder, notifier *notices.Notifier, logger log.Logger) *Gateway {

	resolver := metadata.NewResolver(ring, cfg.RequireKeyVerified)
	coord := metadata.NewCoordinator(ring, relay, cfg.Domain, logger)

	var signer *wrapper.DKIMSigner
	if cfg.DKIMSign && cfg.DKIMKeyPath != "" {
		var err error
		signer, err = wrapper.LoadOrGenerate(cfg.DKIMKeyPath, cfg.DKIMSelector)
		if err != nil {
			logger.Error("gateway: dkim key unavailable, signing disabled", err)
			signer = nil
		}
	}

	return &Gateway{
		cfg:      cfg,
		packets:  packets,
		resolver: resolver,
		coord:    coord,
		wrapper:  wrapper.New(ring, signer),
		relay:    relay,
		history:  hist,
		notifier: notifier,
		logger:   logger,
	}
}

// Packetize is the entry point used by the per-message pipeline that
// finalizes an encrypted message and hands it to the gateway for later
// bundling (spec.md §1's "data flow").
func (g *Gateway) Packetize(domain string, rfc5322 []byte, add packet.Addendum) error {
	_, err := g.packets.Packetize(domain, rfc5322, add)
	return err
}

// BundleAndPad implements spec.md §4.3's single entry point: for every
// domain with pending packets, build one carrier, pad it, encrypt and
// relay it, then record history and delete the packets. Per-domain
// failures are caught and logged; other domains are still attempted in the
// same cycle (spec.md §7 propagation policy).
func (g *Gateway) BundleAndPad() error {
	domains, err := g.packets.ListDomains()
	if err != nil {
		return fmt.Errorf("gateway: list domains: %w", err)
	}

	for _, domain := range domains {
		if err := g.processDomain(domain); err != nil {
			g.logger.Error("gateway: domain cycle failed", err, "domain", domain)
		}
	}
	return nil
}

func (g *Gateway) processDomain(domain string) error {
	res := g.resolver.Resolve(domain)
	if !res.Status.Ready() {
		g.handleNotReady(domain, res)
		return nil
	}

	names, err := g.packets.RawNames(domain)
	if err != nil {
		return fmt.Errorf("list packets: %w", err)
	}

	sel, err := bundler.Select(g.packets, domain, names, g.cfg.BundledMaxSize)
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}

	for _, bounced := range sel.Bounced {
		if err := g.notifier.Bounce(bounced.Addendum.From, g.cfg.BundleMessageKB()); err != nil {
			g.logger.Error("gateway: bounce notice failed", err, "domain", domain)
		}
		if err := g.packets.Remove(bounced); err != nil {
			g.logger.Error("gateway: remove bounced packet", err, "domain", domain)
		}
	}

	if len(sel.Packets) == 0 {
		// All remaining files were skipped as unfinished, or nothing
		// was selected at all: produce no bundle this cycle (spec.md
		// §4.3 edge case).
		return nil
	}

	carrier, err := bundler.BuildCarrier(sel.Packets)
	if err != nil {
		return fmt.Errorf("build carrier: %w", err)
	}

	padded, err := bundler.Pad(carrier, g.cfg.BundledMaxSize)
	if err != nil {
		return fmt.Errorf("pad: %w", err)
	}

	result, err := g.wrapper.Wrap(padded, g.cfg.Domain, domain)
	if err != nil && result.RFC5322 != nil {
		// Encrypted but DKIM signing failed: send the unsigned bundle.
		g.logger.Error("gateway: dkim sign failed, sending unsigned", err, "domain", domain)
		err = nil
	}
	if err != nil {
		// Encryption failure for a domain: fatal for this cycle,
		// packets retained (spec.md §7).
		if alertErr := g.notifier.OperatorAlert(domain, err.Error()); alertErr != nil {
			g.logger.Error("gateway: operator alert failed", alertErr, "domain", domain)
		}
		return fmt.Errorf("wrap: %w", err)
	}

	localAddr := metadata.Address(g.cfg.Domain)
	peerAddr := metadata.Address(domain)
	if err := g.relay.Send(localAddr, peerAddr, result.RFC5322); err != nil {
		if !exterrors.IsTemporaryOrUnspec(err) {
			// A permanent SMTP rejection will never succeed on retry;
			// the operator needs to intervene rather than wait for the
			// next cadence tick.
			if alertErr := g.notifier.OperatorAlert(domain, err.Error()); alertErr != nil {
				g.logger.Error("gateway: operator alert failed", alertErr, "domain", domain)
			}
		}
		// Packets remain queued for the next cycle either way.
		return fmt.Errorf("relay: %w", err)
	}

	g.recordAndClear(sel.Packets, localAddr, result.CryptedWith)
	return nil
}

func (g *Gateway) recordAndClear(packets []packet.Packet, localMetaAddr string, metadataCryptedWith []string) {
	for _, p := range packets {
		entry := history.FromPacket(p, localMetaAddr, metadataCryptedWith)
		if err := g.history.Record(entry); err != nil {
			g.logger.Error("gateway: record history", err)
		}
		if err := g.packets.Remove(p); err != nil {
			// A missing file at this point is logged, not fatal
			// (spec.md §4.7 step 5).
			g.logger.Error("gateway: remove sent packet", err)
		}
	}
}

func (g *Gateway) handleNotReady(domain string, res metadata.Resolution) {
	switch res.Status {
	case metadata.StatusUnknown, metadata.StatusNoFingerprint:
		if err := g.coord.RequestKey(domain); err != nil {
			g.logger.Error("gateway: key exchange request failed", err, "domain", domain)
		}
	case metadata.StatusInactiveOrUnverified:
		g.logger.DebugMsg("gateway: domain not ready, key unverified", "domain", domain)
	}
}
