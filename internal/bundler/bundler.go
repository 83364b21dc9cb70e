// Package bundler implements the Bundler and Padder (spec.md §4.3, §4.4):
// for one peer domain's packet queue, it selects the packets that fit the
// configured bundle size, wraps each in a MIME part, and pads the carrier
// with unpredictable bytes until it is at least the configured size.
package bundler

import (
	"bytes"
	"crypto/rand"
	"fmt"

	emmessage "github.com/emersion/go-message"
	"github.com/opaquemail/gateway/internal/packet"
)

// Selection is the result of one bundler pass over a domain's packet
// queue.
type Selection struct {
	Packets []packet.Packet
	Bounced []packet.Packet
}

// Select implements spec.md §4.3 steps 1-4: enumerate packets in sorted
// order, bounce anything that can never fit, and greedily take packets
// until the next one would overflow the configured max size.
//
// names must already be in lexicographic (queued) order; the caller gets
// this for free from packet.Store.RawNames.
func Select(store *packet.Store, domain string, names []string, maxSize int64) (Selection, error) {
	var sel Selection
	var accumulated int64

	for _, name := range names {
		size, err := store.Stat(domain, name)
		if err != nil {
			continue
		}

		if size > maxSize {
			p, err := store.ReadByName(domain, name)
			if err != nil {
				// Can't even parse it for a bounce; still oversize,
				// still permanent. Leave it for an operator to
				// inspect rather than guessing at its sender.
				continue
			}
			sel.Bounced = append(sel.Bounced, p)
			continue
		}

		if accumulated+size >= maxSize {
			// Would overflow: stop selecting. This packet (and
			// everything after it) waits for the next cycle
			// (spec.md §4.3 ordering guarantee (b)).
			break
		}

		p, err := store.ReadByName(domain, name)
		if err != nil {
			// Missing END_ADDENDUM trailer: still being written.
			// Skip it silently this cycle (spec.md §7).
			continue
		}
		sel.Packets = append(sel.Packets, p)
		accumulated += size
	}

	return sel, nil
}

// BuildCarrier wraps each selected packet's raw bytes into a
// base64-transfer-encoded application/alternative MIME part (spec.md §4.3
// step 3), then serializes the whole multipart/alternative container so the
// Padder can measure and extend it.
func BuildCarrier(packets []packet.Packet) ([]byte, error) {
	var buf bytes.Buffer

	var h emmessage.Header
	h.SetContentType("multipart/alternative", nil)
	w, err := emmessage.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("bundler: create carrier writer: %w", err)
	}

	for _, p := range packets {
		if err := writePart(w, p.RFC5322); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bundler: close carrier writer: %w", err)
	}
	return buf.Bytes(), nil
}

// writePart appends data as a base64 application/alternative part. The
// Content-Transfer-Encoding header is enough for message.Writer to encode
// the bytes we hand it; it must not be pre-encoded here too.
func writePart(w *emmessage.Writer, data []byte) error {
	var ph emmessage.Header
	ph.SetContentType("application/alternative", nil)
	ph.Set("Content-Transfer-Encoding", "base64")

	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("bundler: create part: %w", err)
	}
	if _, err := pw.Write(data); err != nil {
		pw.Close()
		return fmt.Errorf("bundler: write part: %w", err)
	}
	return pw.Close()
}

// Pad implements spec.md §4.4: reads unpredictable bytes from a
// non-blocking cryptographically-strong source and appends them as
// additional application/alternative parts until the carrier is at least
// targetSize. crypto/rand on Linux/BSD reads from the kernel CSPRNG and
// never blocks once seeded, satisfying "never a deterministic or blocking
// source that could stall".
func Pad(carrier []byte, targetSize int64) ([]byte, error) {
	if int64(len(carrier)) >= targetSize {
		return carrier, nil
	}

	// Re-open the multipart container and keep appending parts rather
	// than patch the serialized bytes directly, so the result stays a
	// well-formed MIME message no matter how many padding parts it
	// takes to reach the target.
	msg, err := emmessage.Read(bytes.NewReader(carrier))
	if err != nil {
		return nil, fmt.Errorf("bundler: reopen carrier for padding: %w", err)
	}
	mr := msg.MultipartReader()
	if mr == nil {
		return nil, fmt.Errorf("bundler: carrier is not multipart")
	}

	var out bytes.Buffer
	w, err := emmessage.CreateWriter(&out, msg.Header)
	if err != nil {
		return nil, err
	}

	// Re-emit every existing part (packet parts already written by
	// BuildCarrier) unchanged before appending padding.
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		body, err := readAll(part)
		if err != nil {
			return nil, err
		}
		pw, err := w.CreatePart(part.Header)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write(body); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}

	for int64(out.Len()) < targetSize {
		need := targetSize - int64(out.Len())
		// Read the full raw shortfall. Base64 and the MIME envelope
		// make the part larger than that, so the result usually ends
		// past the target (spec.md §4.4: "If current > target,
		// accept it").
		raw := make([]byte, need)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("bundler: read padding bytes: %w", err)
		}

		if err := writePart(w, raw); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func readAll(m *emmessage.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(m.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
