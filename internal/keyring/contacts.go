package keyring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ContactStore is a directory of peer metadata public keys, one armored
// file per metadata address, plus a sentinel marking which ones have been
// through the verification step described in spec.md §4.9 ("no-fingerprint"
// vs "inactive-or-unverified" classification).
type ContactStore struct {
	Dir string
}

func NewContactStore(dir string) *ContactStore {
	return &ContactStore{Dir: dir}
}

func (c *ContactStore) keyPath(metaAddress string) string {
	return filepath.Join(c.Dir, sanitize(metaAddress)+".asc")
}

func (c *ContactStore) verifiedPath(metaAddress string) string {
	return filepath.Join(c.Dir, sanitize(metaAddress)+".verified")
}

func sanitize(address string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(address)
}

// ErrUnknownContact is returned when no key is on file for a metadata
// address (the resolver's "unknown" case: triggers a key-exchange request
// rather than a hard failure).
var ErrUnknownContact = errors.New("keyring: no metadata key on file for this address")

// Get returns the stored public key for a metadata address and whether it
// has been marked verified.
func (c *ContactStore) Get(metaAddress string) (*openpgp.Entity, bool, error) {
	data, err := os.ReadFile(c.keyPath(metaAddress))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, ErrUnknownContact
	}
	if err != nil {
		return nil, false, fmt.Errorf("keyring: read contact %s: %w", metaAddress, err)
	}

	entity, err := ParseArmoredKey(string(data))
	if err != nil {
		return nil, false, fmt.Errorf("keyring: parse contact %s: %w", metaAddress, err)
	}

	_, verr := os.Stat(c.verifiedPath(metaAddress))
	return entity, verr == nil, nil
}

// Has reports whether a key is on file without parsing it.
func (c *ContactStore) Has(metaAddress string) bool {
	_, err := os.Stat(c.keyPath(metaAddress))
	return err == nil
}

// Import stores a peer's armored metadata public key (spec.md §4.9, the
// response leg of the key-exchange flow). Importing does not itself mark
// the key verified; that's a separate operator or fingerprint-compare step.
func (c *ContactStore) Import(metaAddress, armored string) error {
	if _, err := ParseArmoredKey(armored); err != nil {
		return fmt.Errorf("keyring: refusing to import invalid key for %s: %w", metaAddress, err)
	}
	if err := os.MkdirAll(c.Dir, 0700); err != nil {
		return fmt.Errorf("keyring: mkdir %s: %w", c.Dir, err)
	}
	return os.WriteFile(c.keyPath(metaAddress), []byte(armored), 0600)
}

// MarkVerified records that metaAddress's on-file key has been confirmed
// out-of-band (operator action, or a matching fingerprint announcement).
func (c *ContactStore) MarkVerified(metaAddress string) error {
	if !c.Has(metaAddress) {
		return ErrUnknownContact
	}
	return os.WriteFile(c.verifiedPath(metaAddress), nil, 0600)
}

// All returns every known peer entity, used to build the keyring passed to
// openpgp.ReadMessage so inbound signatures can be checked against any
// contact, not just the sender the caller expects.
func (c *ContactStore) All() openpgp.EntityList {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return nil
	}
	var list openpgp.EntityList
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".asc") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.Dir, e.Name()))
		if err != nil {
			continue
		}
		entity, err := ParseArmoredKey(string(data))
		if err != nil {
			continue
		}
		list = append(list, entity)
	}
	return list
}

// List returns every metadata address with a key on file.
func (c *ContactStore) List() ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".asc") {
			continue
		}
		addrs = append(addrs, strings.TrimSuffix(e.Name(), ".asc"))
	}
	return addrs, nil
}
