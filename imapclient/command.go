package imapclient

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/imapwire"
)

type commandEncoder struct {
	*imapwire.Encoder
	client *Client
	cmd    *Command
}

// ok returns false if the command could not be started.
func (ce *commandEncoder) ok() bool {
	return ce.Encoder != nil
}

// send writes the command parts followed by CRLF.
//
// On failure the connection is closed: a partially written command cannot
// be recovered from.
func (ce *commandEncoder) send(parts imap.Command) error {
	if !ce.ok() {
		return ce.cmd.err
	}
	if err := ce.Encoder.Command(ce.cmd.tag, parts); err != nil {
		ce.fail(err)
		return err
	}
	ce.cmd.markSent()
	return nil
}

func (ce *commandEncoder) fail(err error) {
	var imapErr *imap.Error
	if errors.Is(err, errCommandDone) || errors.As(err, &imapErr) {
		// The server completed the command instead of sending a
		// continuation request, the stream is still in sync
		return
	}
	ce.cmd.err = err
	ce.client.closeWithError(fmt.Errorf("imapclient: failed to send command: %w", err))
}

// end releases the encoder.
func (ce *commandEncoder) end() {
	if ce.Encoder == nil {
		return
	}
	ce.cmd.markSent()
	ce.client.encMutex.Unlock()
	ce.Encoder = nil
}

// continuationRequest is a pending continuation request.
type continuationRequest struct {
	*imapwire.ContinuationRequest
	cmd *Command
}

// command is an interface for IMAP commands.
//
// Commands are represented by the Command type, but can be extended by other
// types (e.g. CapabilityCommand).
type command interface {
	base() *Command
}

// finisher is implemented by commands which release resources on
// completion.
type finisher interface {
	finish()
}

// Command is a basic IMAP command.
//
// A command is sent, then possibly waits for continuation requests, then
// waits for its completion response.
type Command struct {
	tag     string
	done    chan error
	err     error
	timeout time.Duration
	client  *Client

	sent     chan struct{} // closed once the command line is written
	sentOnce sync.Once
	sentAt   time.Time
}

func (cmd *Command) base() *Command {
	return cmd
}

// Wait blocks until the command has completed.
//
// A NO or BAD completion is returned as an *imap.Error. If
// Options.CommandTimeout elapses first, counted from the moment the command
// was written, the connection is closed and ErrCommandTimeout is returned.
func (cmd *Command) Wait() error {
	if cmd.err == nil {
		cmd.err = cmd.wait()
	}
	return cmd.err
}

func (cmd *Command) wait() error {
	if cmd.done == nil {
		return fmt.Errorf("imapclient: command was not sent")
	}
	if cmd.timeout <= 0 {
		return <-cmd.done
	}

	select {
	case err := <-cmd.done:
		return err
	case <-cmd.sent:
	}

	timer := time.NewTimer(time.Until(cmd.sentAt.Add(cmd.timeout)))
	defer timer.Stop()

	select {
	case err := <-cmd.done:
		return err
	case <-timer.C:
	}

	// The deadline may have passed before Wait was called
	select {
	case err := <-cmd.done:
		return err
	default:
	}
	cmd.client.closeWithError(ErrCommandTimeout)
	return ErrCommandTimeout
}

func (cmd *Command) markSent() {
	if cmd.sent == nil {
		return
	}
	cmd.sentOnce.Do(func() {
		cmd.sentAt = time.Now()
		close(cmd.sent)
	})
}

type cmd = Command // type alias to avoid exporting anonymous struct fields

// failedCommand marks a command as failed before anything was sent.
func failedCommand(cmd command, err error) {
	*cmd.base() = Command{err: err}
}

// execute sends a command made of the provided parts.
func (c *Client) execute(cmd command, parts imap.Command) {
	enc := c.beginCommand(cmd)
	defer enc.end()
	enc.send(parts)
}

// Execute sends an arbitrary command.
//
// Untagged responses are processed as for any other command: they update
// the capabilities and the selected mailbox, and the rest is discarded.
func (c *Client) Execute(parts imap.Command) *Command {
	cmd := &Command{}
	if err := parts.Validate(); err != nil {
		failedCommand(cmd, err)
		return cmd
	}
	c.execute(cmd, parts)
	return cmd
}

// Noop sends a NOOP command.
func (c *Client) Noop() *Command {
	cmd := &Command{}
	c.execute(cmd, imap.Command{imap.MustConstant("NOOP")})
	return cmd
}

// Login sends a LOGIN command.
func (c *Client) Login(username, password string) *Command {
	cmd := &loginCommand{}
	c.execute(cmd, imap.Command{
		imap.MustConstant("LOGIN"),
		imap.NewLiteralString(username),
		imap.NewLiteralString(password),
	})
	return &cmd.cmd
}

type loginCommand struct {
	cmd
}

// Logout sends a LOGOUT command.
//
// This command informs the server that the client is done with the
// connection.
func (c *Client) Logout() *LogoutCommand {
	cmd := &LogoutCommand{closer: c}
	enc := c.beginCommand(cmd)
	defer enc.end()
	if enc.ok() {
		c.dropMailbox()
	}
	enc.send(imap.Command{imap.MustConstant("LOGOUT")})
	return cmd
}

// LogoutCommand is a LOGOUT command.
type LogoutCommand struct {
	cmd
	closer io.Closer
}

// Wait blocks until the server has acknowledged the LOGOUT command, then
// closes the connection.
func (cmd *LogoutCommand) Wait() error {
	if err := cmd.cmd.Wait(); err != nil {
		return err
	}
	return cmd.closer.Close()
}

// Append sends an APPEND command.
//
// The caller must write exactly size bytes of message contents, then call
// Close.
func (c *Client) Append(mailbox string, size int64) *AppendCommand {
	cmd := &AppendCommand{}
	if mailbox == "" {
		failedCommand(cmd, fmt.Errorf("%w: empty mailbox name", imap.ErrInvalidArgument))
		cmd.wc = errorWriteCloser{cmd.cmd.err}
		return cmd
	}

	cmd.enc = c.beginCommand(cmd)
	if !cmd.enc.ok() {
		cmd.wc = errorWriteCloser{cmd.cmd.err}
		return cmd
	}
	cmd.enc.Parts(cmd.cmd.tag, imap.Command{imap.MustConstant("APPEND"), mailboxPart(mailbox)}).SP()
	cmd.wc = cmd.enc.StreamLiteral(size)
	return cmd
}

// AppendCommand is an APPEND command.
//
// Callers must write the message contents, then call Close.
type AppendCommand struct {
	cmd
	enc *commandEncoder
	wc  io.WriteCloser
}

func (cmd *AppendCommand) Write(b []byte) (int, error) {
	return cmd.wc.Write(b)
}

// Close terminates the message literal and the command.
func (cmd *AppendCommand) Close() error {
	err := cmd.wc.Close()
	if cmd.enc != nil && cmd.enc.ok() {
		if err == nil {
			err = cmd.enc.CRLF()
		}
		if err != nil {
			cmd.enc.fail(err)
		} else {
			cmd.cmd.markSent()
		}
		cmd.enc.end()
		cmd.enc = nil
	}
	return err
}

func (cmd *AppendCommand) Wait() error {
	return cmd.cmd.Wait()
}

type errorWriteCloser struct {
	err error
}

func (ewc errorWriteCloser) Write(b []byte) (int, error) {
	return 0, ewc.err
}

func (ewc errorWriteCloser) Close() error {
	return ewc.err
}
