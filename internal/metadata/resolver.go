// Package metadata implements the metadata address/key resolver and the
// key-exchange coordinator (spec.md §4.2, §4.9).
package metadata

import (
	"fmt"

	"github.com/opaquemail/gateway/internal/keyring"
)

// DomainUser is the fixed well-known local part shared by every deployment
// (spec.md GLOSSARY, "Metadata address"). Every metadata address is
// <DomainUser>@<domain>.
const DomainUser = "metadata"

// Address returns the well-known metadata mailbox for domain.
func Address(domain string) string {
	return fmt.Sprintf("%s@%s", DomainUser, domain)
}

// DisplayName is the display name stamped on every metadata address
// (spec.md GLOSSARY).
func DisplayName(domain string) string {
	return fmt.Sprintf("%s domain key (system use only)", domain)
}

// IsMetadataAddress reports whether the local part of email is the
// well-known metadata user, mirroring goodcrypto's is_metadata_address.
func IsMetadataAddress(localPart string) bool {
	return localPart == DomainUser
}

// Status classifies the result of resolving a peer domain's metadata key.
type Status int

const (
	// StatusOK: a usable, active, sufficiently-verified key is on file.
	StatusOK Status = iota
	// StatusUnknown: no contact record at all for this domain.
	StatusUnknown
	// StatusNoFingerprint: a contact record exists but no key has
	// synced yet.
	StatusNoFingerprint
	// StatusInactiveOrUnverified: a key is on file but
	// require_key_verified is set and it isn't verified. The contact
	// store has no inactive marker, so keys are never reported inactive.
	StatusInactiveOrUnverified
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnknown:
		return "unknown"
	case StatusNoFingerprint:
		return "no-fingerprint"
	case StatusInactiveOrUnverified:
		return "inactive-or-unverified"
	default:
		return "invalid"
	}
}

// Ready reports whether the domain can receive an encrypted bundle right
// now.
func (s Status) Ready() bool { return s == StatusOK }

// Resolution is the outcome of resolving a peer domain's metadata key
// (spec.md §4.2: "classify a lookup as (ok, address, fingerprint)").
type Resolution struct {
	Status      Status
	Address     string
	Fingerprint string
}

// Resolver looks up peer metadata keys and classifies their readiness.
type Resolver struct {
	ring               *keyring.Ring
	requireKeyVerified bool
}

func NewResolver(ring *keyring.Ring, requireKeyVerified bool) *Resolver {
	return &Resolver{ring: ring, requireKeyVerified: requireKeyVerified}
}

// Resolve classifies the metadata key for a peer domain.
func (r *Resolver) Resolve(domain string) Resolution {
	addr := Address(domain)

	if !r.ring.Contacts().Has(addr) {
		return Resolution{Status: StatusUnknown, Address: addr}
	}

	entity, verified, err := r.ring.Contacts().Get(addr)
	if err != nil {
		// A contact record exists (the .asc file) but couldn't be
		// parsed or the key material hasn't synced: treat the same
		// as not-yet-synced (spec.md §4.2 "no-fingerprint").
		return Resolution{Status: StatusNoFingerprint, Address: addr}
	}

	fingerprint := fmt.Sprintf("%X", entity.PrimaryKey.Fingerprint)

	if r.requireKeyVerified && !verified {
		return Resolution{Status: StatusInactiveOrUnverified, Address: addr, Fingerprint: fingerprint}
	}

	return Resolution{Status: StatusOK, Address: addr, Fingerprint: fingerprint}
}
