// Package notices builds and sends the bounce and operator notices
// described in spec.md §6-§7: plain RFC-5322 messages from
// mailer-daemon@<local-domain>, never bundled or encrypted themselves,
// since they exist to tell a human what went wrong with the pipeline that
// otherwise hides everything.
package notices

import (
	"bytes"
	"fmt"
	"time"

	emmessage "github.com/emersion/go-message"
	"github.com/google/uuid"
)

// Relay is the narrow interface notices needs to actually send a message.
type Relay interface {
	Send(from, to string, rfc5322 []byte) error
}

// Notifier sends bounce and operator notices for one gateway instance.
type Notifier struct {
	localDomain string
	errorTag    string
	operator    string // address an operator notice is sent to; empty disables it
	relay       Relay
}

func New(relay Relay, localDomain, errorTag, operator string) *Notifier {
	return &Notifier{localDomain: localDomain, errorTag: errorTag, operator: operator, relay: relay}
}

func (n *Notifier) mailerDaemon() string {
	return fmt.Sprintf("mailer-daemon@%s", n.localDomain)
}

// Bounce sends an oversize-packet notice back to the original sender
// (spec.md §6, §7 "Oversize packet").
func (n *Notifier) Bounce(originalSender string, maxSizeKB int64) error {
	body := fmt.Sprintf("Message too large to send. It must be %d KB or smaller.", maxSizeKB)
	msg, err := n.build(originalSender, "Message not sent", body)
	if err != nil {
		return err
	}
	return n.relay.Send(n.mailerDaemon(), originalSender, msg)
}

// OperatorAlert reports a fatal per-domain condition to the configured
// operator address (spec.md §7, "Encryption failure for a domain"). It is a
// no-op if no operator address is configured.
func (n *Notifier) OperatorAlert(domain, reason string) error {
	if n.operator == "" {
		return nil
	}
	body := fmt.Sprintf("Bundling for domain %s failed: %s", domain, reason)
	msg, err := n.build(n.operator, "Bundling failure", body)
	if err != nil {
		return err
	}
	return n.relay.Send(n.mailerDaemon(), n.operator, msg)
}

func (n *Notifier) build(to, subject, body string) ([]byte, error) {
	var h emmessage.Header
	h.Set("From", n.mailerDaemon())
	h.Set("To", to)
	h.Set("Subject", fmt.Sprintf("%s %s", n.errorTag, subject))
	h.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	h.Set("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), n.localDomain))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	mw, err := emmessage.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("notices: build message: %w", err)
	}
	if _, err := mw.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
