package wrapper

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-msgauth/dkim"
)

// DKIMSigner attaches the outer DKIM signature described in spec.md §4.5
// step 4. Grounded on the key-loading shape of the modify.dkim module:
// load an existing PEM-encoded RSA key if present, otherwise generate and
// persist a new one.
type DKIMSigner struct {
	selector string
	signer   crypto.Signer
}

// LoadOrGenerate reads an RSA private key from keyPath, generating and
// persisting a new 2048-bit key if none exists yet.
func LoadOrGenerate(keyPath, selector string) (*DKIMSigner, error) {
	key, err := loadKey(keyPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("wrapper: load dkim key: %w", err)
	}
	if key == nil {
		key, err = generateKey(keyPath)
		if err != nil {
			return nil, fmt.Errorf("wrapper: generate dkim key: %w", err)
		}
	}
	return &DKIMSigner{selector: selector, signer: key}, nil
}

func loadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("wrapper: %s: not a PEM file", path)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("wrapper: %s: %w", path, err)
	}
	return key, nil
}

func generateKey(path string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, err
	}
	return key, nil
}

// Sign DKIM-signs rfc5322 for localDomain using the selector configured at
// construction, returning the signed message with the DKIM-Signature
// header prepended.
func (s *DKIMSigner) Sign(rfc5322 []byte, localDomain string) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:                 localDomain,
		Selector:               s.selector,
		Signer:                 s.signer,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             []string{"From", "To", "Date", "Message-ID", "Content-Type"},
		Expiration:             time.Now().Add(7 * 24 * time.Hour),
	}

	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(rfc5322), opts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
