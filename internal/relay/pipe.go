package relay

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/opaquemail/gateway/framework/config"
	"github.com/opaquemail/gateway/framework/module"
)

// PipeRelay hands the finished message to a sendmail-compatible binary
// instead of speaking SMTP directly, invoked as "<path> -f <from> -- <to>"
// (spec.md §4.6).
type PipeRelay struct {
	instName string
	path     string
}

func NewPipeRelay(instName string, args []string) (module.Relay, error) {
	r := &PipeRelay{instName: instName, path: "/usr/sbin/sendmail"}
	if len(args) > 0 {
		r.path = args[0]
	}
	return r, nil
}

func (r *PipeRelay) Name() string { return r.instName }

func (r *PipeRelay) Init(cfg *config.Map) error {
	cfg.String("path", false, false, r.path, &r.path)
	_, err := cfg.Process()
	return err
}

func (r *PipeRelay) Send(from, to string, rfc5322 []byte) error {
	cmd := exec.Command(r.path, "-f", from, "--", to)
	cmd.Stdin = bytes.NewReader(rfc5322)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("relay: %s: %w: %s", r.path, err, stderr.String())
	}
	return nil
}

func init() {
	module.Register("relay.pipe", NewPipeRelay)
}
