package imapclient

import (
	"fmt"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/imapwire"
)

// Capability sends a CAPABILITY command.
func (c *Client) Capability() *CapabilityCommand {
	cmd := &CapabilityCommand{}
	c.execute(cmd, imap.Command{imap.MustConstant("CAPABILITY")})
	return cmd
}

// CapabilityCommand is a CAPABILITY command.
type CapabilityCommand struct {
	cmd
}

// Wait blocks until the command has completed and returns the capabilities
// the server advertised.
func (cmd *CapabilityCommand) Wait() (imap.CapSet, error) {
	if err := cmd.cmd.Wait(); err != nil {
		return nil, err
	}
	return cmd.cmd.client.Caps(), nil
}

func readCapabilities(dec *imapwire.Decoder) (imap.CapSet, error) {
	caps := make(imap.CapSet)
	for dec.SP() {
		var name string
		if !dec.ExpectAtom(&name) {
			return caps, fmt.Errorf("in capability-data: %w", dec.Err())
		}
		caps[imap.Cap(name)] = struct{}{}
	}
	return caps, nil
}
