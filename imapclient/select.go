package imapclient

import (
	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/mailboxstate"
	"github.com/rnwood/go-imapcore/internal/utf7"
)

// Select sends a SELECT or EXAMINE command.
//
// The previously selected mailbox, if any, is deselected as soon as the
// command is sent. The new mailbox state is populated from the responses
// received until the command completes.
//
// A nil options pointer is equivalent to a zero options value.
func (c *Client) Select(mailbox string, options *imap.SelectOptions) *SelectCommand {
	cmdName := "SELECT"
	if options != nil && options.ReadOnly {
		cmdName = "EXAMINE"
	}

	cmd := &SelectCommand{}
	st, err := mailboxstate.New(imap.CanonicalMailboxName(mailbox))
	if err != nil {
		failedCommand(cmd, err)
		return cmd
	}

	enc := c.beginCommand(cmd)
	defer enc.end()
	if enc.ok() {
		c.mutex.Lock()
		c.mailbox = st
		if c.state == imap.ConnStateSelected {
			c.state = imap.ConnStateAuthenticated
		}
		c.mutex.Unlock()
	}
	enc.send(imap.Command{imap.MustConstant(cmdName), mailboxPart(mailbox)})
	return cmd
}

// Unselect sends an UNSELECT command.
//
// This command requires support for IMAP4rev2 or the UNSELECT extension.
func (c *Client) Unselect() *Command {
	return c.unselect("UNSELECT")
}

// UnselectAndExpunge sends a CLOSE command.
//
// CLOSE implicitly performs a silent EXPUNGE command.
func (c *Client) UnselectAndExpunge() *Command {
	return c.unselect("CLOSE")
}

func (c *Client) unselect(name string) *Command {
	cmd := &Command{}
	enc := c.beginCommand(cmd)
	defer enc.end()
	if enc.ok() {
		c.dropMailbox()
	}
	enc.send(imap.Command{imap.MustConstant(name)})
	return cmd
}

// dropMailbox invalidates the selected mailbox state.
func (c *Client) dropMailbox() {
	c.mutex.Lock()
	c.mailbox = nil
	if c.state == imap.ConnStateSelected {
		c.state = imap.ConnStateAuthenticated
	}
	c.mutex.Unlock()
}

// SelectCommand is a SELECT command.
type SelectCommand struct {
	cmd
	data imap.SelectedMailbox
}

// Wait blocks until the command has completed. On success, it returns a
// snapshot of the selected mailbox.
func (cmd *SelectCommand) Wait() (imap.SelectedMailbox, error) {
	if err := cmd.cmd.Wait(); err != nil {
		return nil, err
	}
	return cmd.data, nil
}

// mailboxPart returns the command part for a mailbox name.
func mailboxPart(name string) imap.CommandPart {
	if name = imap.CanonicalMailboxName(name); name == imap.InboxName {
		return imap.MustConstant(imap.InboxName)
	}
	return imap.NewLiteralString(utf7.Encode(name))
}
