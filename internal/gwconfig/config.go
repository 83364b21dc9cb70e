// Package gwconfig holds the gatewayd configuration schema (spec.md §3) and
// the loader that turns a parsed Maddyfile-style block into a Config.
package gwconfig

import (
	"fmt"
	"io"
	"time"

	"github.com/opaquemail/gateway/framework/address"
	"github.com/opaquemail/gateway/framework/config"
)

// BundleFrequency is the cadence enum from spec.md §3.
type BundleFrequency string

const (
	Hourly BundleFrequency = "hourly"
	Daily  BundleFrequency = "daily"
	Weekly BundleFrequency = "weekly"
)

// Interval returns the cadence_interval for this frequency (§4.8, GLOSSARY).
// TestMode shortens hourly to 10 minutes, matching the source's own
// WARNING_WARNING_WARNING_TESTING_ONLY_DO_NOT_SHIP knob.
func (f BundleFrequency) Interval(testMode bool) time.Duration {
	switch f {
	case Hourly:
		if testMode {
			return 10 * time.Minute
		}
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Config is the enumerated option set from spec.md §3, plus the operational
// paths (§11 AMBIENT STACK) a deployment needs and spec.md has no room for:
// where the queue root, contacts store, lock file and history database
// live, and which relay adapter to use.
type Config struct {
	// Domain is this gateway's own mail domain, used to derive the local
	// metadata address (§6).
	Domain string

	EncryptMetadata    bool
	BundleAndPad       bool
	BundleFrequency    BundleFrequency
	BundledMaxSize     int64
	DKIMSign           bool
	RequireKeyVerified bool

	// ErrorTag prefixes bounce/operator notice subjects (§6).
	ErrorTag string

	// OperatorNotify is the address that receives the mandatory fatal
	// per-domain-encryption-failure notice (§7, "Encryption failure for a
	// domain"). Unlike the missing-key case, this notice is not optional,
	// so this directive is required.
	OperatorNotify string

	QueueDir    string
	ContactsDir string
	LockFile    string
	HistoryDSN  string
	KeyPath     string

	RelayMode string // "smtp" or "pipe"
	RelayArgs []string

	DKIMSelector string
	DKIMKeyPath  string

	// TestMode shortens the hourly cadence for development/integration
	// testing (mirrors the source's own testing-only knob, spec.md §4.8).
	TestMode bool
}

// BundleMessageKB is the human-readable form of BundledMaxSize used in
// bounce notice text (spec.md §3, §6).
func (c Config) BundleMessageKB() int64 {
	return c.BundledMaxSize / 1024
}

// Load parses a gatewayd configuration file into a Config, applying the
// documented defaults for anything not present.
func Load(r io.Reader, fileName string) (Config, error) {
	nodes, err := config.Read(r, fileName)
	if err != nil {
		return Config{}, err
	}

	m := config.NewMap(nil, nodes)

	c := Config{}
	var freq string
	var sizeKB int
	m.String("domain", true, false, "", &c.Domain)
	m.Bool("encrypt_metadata", false, false, &c.EncryptMetadata)
	m.Bool("bundle_and_pad", false, false, &c.BundleAndPad)
	m.String("bundle_frequency", false, false, "hourly", &freq)
	m.Int("bundle_message_kb", false, false, 64, &sizeKB)
	m.Bool("dkim_sign", false, false, &c.DKIMSign)
	m.Bool("require_key_verified", false, false, &c.RequireKeyVerified)
	m.String("error_tag", false, false, "[gateway error]", &c.ErrorTag)
	m.String("operator_notify", true, false, "", &c.OperatorNotify)
	m.String("queue_dir", false, false, "/var/lib/gatewayd/queue", &c.QueueDir)
	m.String("contacts_dir", false, false, "/var/lib/gatewayd/contacts", &c.ContactsDir)
	m.String("lock_file", false, false, "/var/lib/gatewayd/gatewayd.lock", &c.LockFile)
	m.String("history_dsn", false, false, "/var/lib/gatewayd/history.db", &c.HistoryDSN)
	m.String("key_path", false, false, "/var/lib/gatewayd/gatewayd.key", &c.KeyPath)
	m.String("dkim_selector", false, false, "metadata", &c.DKIMSelector)
	m.String("dkim_key", false, false, "", &c.DKIMKeyPath)
	m.Bool("test_mode", false, false, &c.TestMode)
	m.Custom("relay", true, false, nil, func(n config.Node) (interface{}, error) {
		if len(n.Args) == 0 {
			return nil, config.NodeErr(n, "expected relay mode (smtp or pipe) as first argument")
		}
		return n.Args, nil
	}, func(v interface{}) {
		args := v.([]string)
		c.RelayMode = args[0]
		c.RelayArgs = args[1:]
	})

	if _, err := m.Process(); err != nil {
		return Config{}, err
	}

	switch BundleFrequency(freq) {
	case Hourly, Daily, Weekly:
		c.BundleFrequency = BundleFrequency(freq)
	default:
		return Config{}, fmt.Errorf("gwconfig: invalid bundle_frequency: %s", freq)
	}
	c.BundledMaxSize = int64(sizeKB) * 1024

	if !address.ValidDomain(c.Domain) {
		return Config{}, fmt.Errorf("gwconfig: invalid domain: %s", c.Domain)
	}
	if !address.Valid(c.OperatorNotify) {
		return Config{}, fmt.Errorf("gwconfig: invalid operator_notify address: %s", c.OperatorNotify)
	}

	return c, nil
}
