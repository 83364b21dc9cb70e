package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opaquemail/gateway/framework/log"
	"github.com/opaquemail/gateway/internal/keyring"
)

// AcceptedCryptoSoftware lists the algorithms this gateway can use for the
// metadata layer (spec.md GLOSSARY, "Key-exchange message").
var AcceptedCryptoSoftware = []string{"OpenPGP"}

// Relay is the subset of module.Relay the coordinator needs; kept narrow so
// this package does not import the relay adapter registry directly.
type Relay interface {
	Send(from, to string, rfc5322 []byte) error
}

// Coordinator implements spec.md §4.9: when a peer domain has no usable
// metadata key, it synthesizes and sends the local metadata public key to
// that domain's metadata address.
type Coordinator struct {
	ring   *keyring.Ring
	relay  Relay
	domain string
	logger log.Logger
}

func NewCoordinator(ring *keyring.Ring, relay Relay, localDomain string, logger log.Logger) *Coordinator {
	return &Coordinator{ring: ring, relay: relay, domain: localDomain, logger: logger}
}

// RequestKey sends the local metadata public key to peerDomain's metadata
// address, bootstrapping a future Resolve call. It never bundles or pads
// this message (spec.md §4.9: "not itself bundled or padded").
func (c *Coordinator) RequestKey(peerDomain string) error {
	localAddr := Address(c.domain)
	peerAddr := Address(peerDomain)

	pub, err := c.ring.PublicArmor()
	if err != nil {
		return fmt.Errorf("metadata: export local public key: %w", err)
	}

	msg := buildKeyExchangeMessage(localAddr, peerAddr, pub)

	if err := c.relay.Send(localAddr, peerAddr, msg); err != nil {
		c.logger.Error("key exchange send failed", err, "domain", peerDomain)
		return err
	}
	c.logger.DebugMsg("sent metadata key to peer", "domain", peerDomain)
	return nil
}

// buildKeyExchangeMessage follows prep_metadata_key_message: the armored
// public key block is not carried as the message body. Each of its lines is
// partitioned on ": " into a header name/value pair (lines with no ": ",
// such as the armor boundary and base64 payload lines, become a header with
// an empty value), and the message body is left empty.
func buildKeyExchangeMessage(from, to, armoredKey string) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s <%s>\r\n", DisplayName(domainOf(from)), from)
	fmt.Fprintf(&b, "To: %s <%s>\r\n", DisplayName(domainOf(to)), to)
	fmt.Fprintf(&b, "Subject: Metadata key exchange\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(from))

	for _, line := range strings.Split(strings.TrimRight(armoredKey, "\r\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, value, _ := strings.Cut(line, ": ")
		fmt.Fprintf(&b, "%s: %s\r\n", name, value)
	}

	fmt.Fprintf(&b, "Accepted-Crypto-Software: %s\r\n", strings.Join(AcceptedCryptoSoftware, ","))
	fmt.Fprintf(&b, "\r\n")

	return []byte(b.String())
}

func domainOf(addr string) string {
	_, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return addr
	}
	return domain
}
