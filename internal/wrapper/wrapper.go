// Package wrapper implements the Wrapper/encryptor (spec.md §4.5): it takes
// the padded carrier for one peer domain, stamps the outer envelope
// headers, encrypts the whole thing under the peer's metadata key, and
// optionally DKIM-signs the result.
package wrapper

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	emmessage "github.com/emersion/go-message"
	"github.com/google/uuid"
	"github.com/opaquemail/gateway/internal/keyring"
	"github.com/opaquemail/gateway/internal/metadata"
)

// ErrNotCrypted is returned when encryption could not be performed for any
// algorithm; spec.md §4.5 requires the domain be aborted rather than ever
// emit a partial or plaintext bundle.
var ErrNotCrypted = errors.New("wrapper: no encryption algorithm succeeded, refusing to emit plaintext bundle")

// Result is a finished outer message plus the bookkeeping the history
// recorder needs (spec.md §4.7's "metadata layer's algorithms").
type Result struct {
	RFC5322      []byte
	CryptedWith  []string
}

// Wrapper turns a padded carrier into the outer encrypted message.
type Wrapper struct {
	ring   *keyring.Ring
	signer *DKIMSigner // nil when dkim_sign is off
}

func New(ring *keyring.Ring, signer *DKIMSigner) *Wrapper {
	return &Wrapper{ring: ring, signer: signer}
}

// Wrap implements spec.md §4.5 steps 1-5.
func (w *Wrapper) Wrap(carrier []byte, localDomain, peerDomain string) (Result, error) {
	localAddr := metadata.Address(localDomain)
	peerAddr := metadata.Address(peerDomain)

	outer, err := stampEnvelope(carrier, localAddr, peerAddr)
	if err != nil {
		return Result{}, fmt.Errorf("wrapper: stamp envelope: %w", err)
	}

	ciphertext, err := w.ring.Encrypt(peerAddr, outer)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNotCrypted, err)
	}

	final, err := buildOuterMessage(localAddr, peerAddr, localDomain, ciphertext)
	if err != nil {
		return Result{}, fmt.Errorf("wrapper: build outer message: %w", err)
	}

	if w.signer != nil {
		signed, err := w.signer.Sign(final, localDomain)
		if err != nil {
			// DKIM failure does not invalidate encryption; the bundle
			// still went out encrypted, just unsigned. Log upstream.
			return Result{RFC5322: final, CryptedWith: []string{"OpenPGP"}}, fmt.Errorf("wrapper: dkim sign: %w", err)
		}
		final = signed
	}

	return Result{RFC5322: final, CryptedWith: []string{"OpenPGP"}}, nil
}

// stampEnvelope implements spec.md §4.5 steps 1-2: wraps the already-built
// multipart/alternative carrier in a multipart/mixed container and stamps
// the From/To/Original-From/Original-To/Date/Message-ID headers that will
// become the *inner*, now-to-be-encrypted, message.
func stampEnvelope(carrier []byte, from, to string) ([]byte, error) {
	inner, err := emmessage.Read(bytes.NewReader(carrier))
	if err != nil {
		return nil, err
	}

	var h emmessage.Header
	boundary := uuid.NewString() + uuid.NewString()
	h.SetContentType("multipart/mixed", map[string]string{"boundary": boundary, "charset": "utf-8"})
	h.Set("From", from)
	h.Set("To", to)
	h.Set("Original-From", from)
	h.Set("Original-To", to)
	h.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	h.Set("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from)))

	var buf bytes.Buffer
	mw, err := emmessage.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	pw, err := mw.CreatePart(inner.Header)
	if err != nil {
		return nil, err
	}
	var innerBody bytes.Buffer
	if _, err := innerBody.ReadFrom(inner.Body); err != nil {
		return nil, err
	}
	if _, err := pw.Write(innerBody.Bytes()); err != nil {
		return nil, err
	}
	if err := pw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildOuterMessage produces the final RFC-5322 message whose only visible
// headers are the two metadata addresses (spec.md §4.5 step 3, GLOSSARY
// "Outbound envelope of a bundle"). The ciphertext becomes the entire
// message body; nothing from the inner message leaks into outer headers.
func buildOuterMessage(from, to, localDomain string, ciphertext []byte) ([]byte, error) {
	var h emmessage.Header
	h.Set("From", fmt.Sprintf("%s <%s>", metadata.DisplayName(localDomain), from))
	h.Set("To", to)
	h.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	h.Set("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from)))
	h.SetContentType("application/pgp-encrypted", nil)
	h.Set("Content-Transfer-Encoding", "7bit")
	h.Set("MIME-Version", "1.0")

	var buf bytes.Buffer
	w, err := emmessage.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(ciphertext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func domainOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return addr
}
