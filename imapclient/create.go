package imapclient

import (
	"fmt"

	"github.com/rnwood/go-imapcore"
)

// Create sends a CREATE command.
func (c *Client) Create(mailbox string) *Command {
	cmd := &Command{}
	if mailbox == "" {
		failedCommand(cmd, fmt.Errorf("%w: empty mailbox name", imap.ErrInvalidArgument))
		return cmd
	}
	c.execute(cmd, imap.Command{imap.MustConstant("CREATE"), mailboxPart(mailbox)})
	return cmd
}
