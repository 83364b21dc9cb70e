// Package keyring wraps OpenPGP key material for the metadata-address
// gateway (spec.md §4.2, §4.9): the gateway's own metadata keypair, and the
// directory of peer metadata public keys used to encrypt outbound bundles
// and verify inbound ones.
//
// Grounded on the ProtonMail/go-crypto/openpgp armor/encrypt/decrypt shape
// used throughout the retrieval pack's other PGP-handling examples.
package keyring

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Ring is one gateway's local metadata keypair plus its directory of known
// peer public keys.
type Ring struct {
	self     *openpgp.Entity
	contacts *ContactStore
}

// Load reads (or, if absent, generates and persists) the gateway's own
// metadata keypair from keyPath, and opens the contacts directory.
func Load(keyPath, contactsDir, name, email string) (*Ring, error) {
	self, err := loadOrCreateKey(keyPath, name, email)
	if err != nil {
		return nil, err
	}
	return &Ring{self: self, contacts: NewContactStore(contactsDir)}, nil
}

func loadOrCreateKey(path, name, email string) (*openpgp.Entity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, err := armor.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("keyring: decode %s: %w", path, err)
		}
		return openpgp.ReadEntity(packet.NewReader(block.Body))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keyring: read %s: %w", path, err)
	}

	entity, err := openpgp.NewEntity(name, "gateway metadata key", email, nil)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate keypair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("keyring: mkdir: %w", err)
	}
	if err := savePrivate(path, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

func savePrivate(path string, entity *openpgp.Entity) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("keyring: create %s: %w", path, err)
	}
	defer f.Close()

	w, err := armor.Encode(f, openpgp.PrivateKeyType, nil)
	if err != nil {
		return err
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		return err
	}
	return w.Close()
}

// PublicArmor returns the gateway's own public metadata key, armored, for
// publication and key-exchange responses (spec.md §4.9).
func (r *Ring) PublicArmor() (string, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := r.self.Serialize(w); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Fingerprint returns the gateway's own key fingerprint, hex-encoded.
func (r *Ring) Fingerprint() string {
	return fmt.Sprintf("%X", r.self.PrimaryKey.Fingerprint)
}

// Contacts exposes the peer key store, e.g. for gatewayctl import/list.
func (r *Ring) Contacts() *ContactStore { return r.contacts }

// Encrypt armors and encrypts plaintext to the metadata address's known
// public key (spec.md §4.5, "Wrapper"). The caller is responsible for
// checking the recipient's verification status first if
// require_key_verified is set (spec.md §3).
func (r *Ring) Encrypt(metaAddress string, plaintext []byte) ([]byte, error) {
	pub, _, err := r.contacts.Get(metaAddress)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return nil, err
	}
	plainW, err := openpgp.Encrypt(w, []*openpgp.Entity{pub}, r.self, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("keyring: encrypt to %s: %w", metaAddress, err)
	}
	if _, err := plainW.Write(plaintext); err != nil {
		return nil, err
	}
	if err := plainW.Close(); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decrypt reverses Encrypt, returning the plaintext and the signer's entity
// if the message was signed (used to reconstruct the two-layer signer chain
// in spec.md §4.5's inner/outer wrapping).
func (r *Ring) Decrypt(ciphertext []byte) ([]byte, *openpgp.Entity, error) {
	block, err := armor.Decode(bytes.NewReader(ciphertext))
	if err != nil {
		return nil, nil, fmt.Errorf("keyring: decode armor: %w", err)
	}

	keyring := append(openpgp.EntityList{r.self}, r.contacts.All()...)
	md, err := openpgp.ReadMessage(block.Body, keyring, nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("keyring: decrypt: %w", err)
	}

	plain, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, nil, err
	}
	return plain, md.SignedBy.GetEntity(), nil
}

// ParseArmoredKey reads a single armored public key, for importing a peer's
// metadata key received via the key-exchange flow (spec.md §4.9).
func ParseArmoredKey(armored string) (*openpgp.Entity, error) {
	block, err := armor.Decode(strings.NewReader(armored))
	if err != nil {
		return nil, fmt.Errorf("keyring: decode armored key: %w", err)
	}
	return openpgp.ReadEntity(packet.NewReader(block.Body))
}
