// Package relay implements the Relay adapter (spec.md §4.6): handing a
// finished RFC-5322 message to the local MTA, either via direct SMTP
// submission or an out-of-process sendmail-compatible invocation.
//
// Grounded on internal/smtpconn's client usage pattern (Dial, Mail, Rcpt,
// Data) and registered through framework/module the same way maddy's relay
// targets register themselves.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/opaquemail/gateway/framework/config"
	"github.com/opaquemail/gateway/framework/exterrors"
	"github.com/opaquemail/gateway/framework/module"
)

// SMTPRelay submits finished bundles to a local (or configured) MTA over
// SMTP. Retries are explicitly out of scope (spec.md §4.6): a transient
// failure here just means this cycle's bundle stays queued.
type SMTPRelay struct {
	instName string
	addr     string
	timeout  time.Duration
}

func NewSMTPRelay(instName string, args []string) (module.Relay, error) {
	r := &SMTPRelay{instName: instName, addr: "127.0.0.1:25", timeout: 30 * time.Second}
	if len(args) > 0 {
		r.addr = args[0]
	}
	return r, nil
}

func (r *SMTPRelay) Name() string { return r.instName }

func (r *SMTPRelay) Init(cfg *config.Map) error {
	cfg.String("addr", false, false, r.addr, &r.addr)
	cfg.Duration("timeout", false, false, r.timeout, &r.timeout)
	_, err := cfg.Process()
	return err
}

// Send bounds the dial, each SMTP command and the message submission by
// r.timeout, each on its own, so a stuck or unresponsive MTA cannot block
// the single-threaded scheduler indefinitely.
func (r *SMTPRelay) Send(from, to string, rfc5322 []byte) error {
	dialCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	host, _, err := net.SplitHostPort(r.addr)
	if err != nil {
		host = r.addr
	}

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("relay: dial %s: %w", r.addr, err)
	}

	cl, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("relay: smtp handshake %s: %w", r.addr, err)
	}
	cl.CommandTimeout = r.timeout
	cl.SubmissionTimeout = r.timeout
	defer cl.Close()

	if err := cl.Hello(localHostname()); err != nil {
		return fmt.Errorf("relay: EHLO: %w", err)
	}

	if err := cl.Mail(from, nil); err != nil {
		return fmt.Errorf("relay: MAIL FROM: %w", classifyErr(err))
	}
	if err := cl.Rcpt(to); err != nil {
		return fmt.Errorf("relay: RCPT TO: %w", classifyErr(err))
	}

	wc, err := cl.Data()
	if err != nil {
		return fmt.Errorf("relay: DATA: %w", classifyErr(err))
	}
	if _, err := wc.Write(rfc5322); err != nil {
		wc.Close()
		return fmt.Errorf("relay: write message: %w", classifyErr(err))
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("relay: finish message: %w", classifyErr(err))
	}

	return cl.Quit()
}

func localHostname() string {
	return "localhost"
}

// classifyErr tags an SMTP reply with exterrors.WithTemporary based on its
// status code (4xx retryable, 5xx not), so the gateway can tell a transient
// MTA hiccup from a delivery that will never succeed.
func classifyErr(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return exterrors.WithTemporary(err, smtpErr.Code/100 == 4)
	}
	return err
}

func init() {
	module.Register("relay.smtp", NewSMTPRelay)
}
