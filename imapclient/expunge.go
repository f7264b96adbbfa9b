package imapclient

import (
	"github.com/rnwood/go-imapcore"
)

// Expunge sends an EXPUNGE command.
func (c *Client) Expunge() *ExpungeCommand {
	cmd := &ExpungeCommand{}
	c.execute(cmd, imap.Command{imap.MustConstant("EXPUNGE")})
	return cmd
}

func (c *Client) handleExpunge(seqNum uint32) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.mailbox != nil {
		c.mailbox.Expunge()
	}
	if cmd, ok := c.pendingCmd.(*ExpungeCommand); ok {
		cmd.seqNums = append(cmd.seqNums, seqNum)
	}
}

// ExpungeCommand is an EXPUNGE command.
type ExpungeCommand struct {
	cmd
	seqNums []uint32
}

// Wait blocks until the command has completed and returns the sequence
// numbers of the expunged messages, in the order the server reported them.
func (cmd *ExpungeCommand) Wait() ([]uint32, error) {
	err := cmd.cmd.Wait()
	return cmd.seqNums, err
}
