// Package history implements the History recorder (spec.md §4.7):
// reconstructing per-original-message accounting records from each
// packet's addendum after a successful send, persisted in a local SQLite
// database.
//
// mattn/go-sqlite3 is the teacher's own embedded-storage driver choice
// (used beneath go-imap-sql); history needs nothing resembling IMAP
// semantics, so it talks to it directly through database/sql instead of
// carrying that abstraction along.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opaquemail/gateway/internal/packet"
)

// Entry is one persisted outbound-record (spec.md §4.7 step 2).
type Entry struct {
	SentAt              time.Time
	OriginalFrom        string
	OriginalTo          string
	Encrypted           bool
	PrivateSigned       bool
	ClearSigned         bool
	DkimSigned          bool
	CryptedWith         []string
	Verification        string
	Signers             []string
	MetadataCryptedWith []string
}

// Recorder persists Entry rows to a SQLite database.
type Recorder struct {
	db *sql.DB
}

func Open(dsn string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dsn, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS outbound_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sent_at TEXT NOT NULL,
			original_from TEXT NOT NULL,
			original_to TEXT NOT NULL,
			encrypted INTEGER NOT NULL,
			private_signed INTEGER NOT NULL,
			clear_signed INTEGER NOT NULL,
			dkim_signed INTEGER NOT NULL,
			crypted_with TEXT NOT NULL,
			verification TEXT NOT NULL,
			signers TEXT NOT NULL,
			metadata_crypted_with TEXT NOT NULL
		)
	`)
	return err
}

func (r *Recorder) Close() error { return r.db.Close() }

// FromPacket reconstructs a history Entry from a packet's addendum and the
// algorithms the Wrapper actually used for the metadata layer (spec.md
// §4.7 steps 2-3, supplemented per add_history_and_remove). Private signing
// always credits the metadata address, plus the original sender when the
// message was also encrypted. Clear signing credits the sender when
// encrypted, and the metadata address when it was sent in the clear.
func FromPacket(p packet.Packet, localMetaAddr string, metadataCryptedWith []string) Entry {
	e := Entry{
		SentAt:              time.Now().UTC(),
		OriginalFrom:        p.Addendum.From,
		OriginalTo:          p.Addendum.To,
		Encrypted:           p.Addendum.Crypted,
		PrivateSigned:       p.Addendum.PrivateSigned,
		ClearSigned:         p.Addendum.ClearSigned,
		DkimSigned:          p.Addendum.DkimSigned,
		CryptedWith:         p.Addendum.CryptedWith,
		Verification:        p.Addendum.Verification,
		MetadataCryptedWith: metadataCryptedWith,
	}

	if p.Addendum.PrivateSigned {
		if p.Addendum.Crypted {
			e.Signers = append(e.Signers, p.Addendum.From)
		}
		e.Signers = append(e.Signers, localMetaAddr)
	}
	if p.Addendum.ClearSigned {
		if p.Addendum.Crypted {
			e.Signers = append(e.Signers, p.Addendum.From)
		} else {
			e.Signers = append(e.Signers, localMetaAddr)
		}
	}

	return e
}

// Record persists an Entry (spec.md §4.7 step 4).
func (r *Recorder) Record(e Entry) error {
	_, err := r.db.Exec(`
		INSERT INTO outbound_history
			(sent_at, original_from, original_to, encrypted, private_signed,
			 clear_signed, dkim_signed, crypted_with, verification, signers,
			 metadata_crypted_with)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SentAt.Format(time.RFC3339),
		e.OriginalFrom,
		e.OriginalTo,
		boolInt(e.Encrypted),
		boolInt(e.PrivateSigned),
		boolInt(e.ClearSigned),
		boolInt(e.DkimSigned),
		strings.Join(e.CryptedWith, ", "),
		e.Verification,
		strings.Join(e.Signers, ", "),
		strings.Join(e.MetadataCryptedWith, ", "),
	)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ForDomain returns every recorded entry whose original recipient is at
// domain, newest first; used by gatewayctl to inspect delivery accounting.
func (r *Recorder) ForDomain(domain string) ([]Entry, error) {
	rows, err := r.db.Query(`
		SELECT sent_at, original_from, original_to, encrypted, private_signed,
		       clear_signed, dkim_signed, crypted_with, verification, signers,
		       metadata_crypted_with
		FROM outbound_history
		WHERE original_to LIKE ?
		ORDER BY id DESC
	`, "%@"+domain)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var sentAt, crypted, signers, metaCrypted string
		var encrypted, private, clear, dkimSigned int
		if err := rows.Scan(&sentAt, &e.OriginalFrom, &e.OriginalTo, &encrypted, &private,
			&clear, &dkimSigned, &crypted, &e.Verification, &signers, &metaCrypted); err != nil {
			return nil, err
		}
		e.SentAt, _ = time.Parse(time.RFC3339, sentAt)
		e.Encrypted = encrypted != 0
		e.PrivateSigned = private != 0
		e.ClearSigned = clear != 0
		e.DkimSigned = dkimSigned != 0
		e.CryptedWith = splitNonEmpty(crypted)
		e.Signers = splitNonEmpty(signers)
		e.MetadataCryptedWith = splitNonEmpty(metaCrypted)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ", ")
	return parts
}
