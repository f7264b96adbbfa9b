// Package imapclient implements an IMAP client.
//
// # Commands
//
// Commands are sent one at a time: a method issuing a command blocks until
// the previous command has completed. Methods return once the command has
// been written, the returned value is used to wait for the server's
// completion response.
//
// # Selected mailbox
//
// The state of the selected mailbox is updated by the responses the server
// sends. Client.Mailbox returns a snapshot of it.
package imapclient

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/imapwire"
	"github.com/rnwood/go-imapcore/internal/mailboxstate"
)

// ErrCommandTimeout is returned by Wait when the server didn't complete a
// command within Options.CommandTimeout. The connection is closed.
var ErrCommandTimeout = errors.New("imapclient: timed out waiting for command completion")

var errCommandDone = errors.New("imapclient: command completed")

// Options contains options for Client.
type Options struct {
	// Raw ingress and egress data will be written to this writer, if any
	DebugWriter io.Writer
	// Logger is used to report connection-level events. If nil,
	// slog.Default is used.
	Logger *slog.Logger

	// LiteralPlus enables non-synchronizing literals for all payloads. It
	// must only be set if the server advertises LITERAL+.
	LiteralPlus bool
	// LiteralMinus enables non-synchronizing literals of up to 4096 bytes. It
	// must only be set if the server advertises LITERAL- or LITERAL+.
	LiteralMinus bool

	// ContinuationTimeout bounds the wait for a continuation request before
	// sending a synchronizing literal. Zero means no timeout.
	ContinuationTimeout time.Duration
	// CommandTimeout bounds the time between writing a command and receiving
	// its completion response. It is enforced by Wait, and a late call to Wait
	// doesn't extend it. Zero means no timeout.
	CommandTimeout time.Duration
}

func (options *Options) wrapReadWriter(rw io.ReadWriter) io.ReadWriter {
	if options.DebugWriter == nil {
		return rw
	}
	return struct {
		io.Reader
		io.Writer
	}{
		Reader: io.TeeReader(rw, options.DebugWriter),
		Writer: io.MultiWriter(rw, options.DebugWriter),
	}
}

func (options *Options) logger() *slog.Logger {
	if options.Logger != nil {
		return options.Logger
	}
	return slog.Default()
}

// Client is an IMAP client.
//
// IMAP commands are exposed as methods. These methods will block until the
// command has been sent to the server, but won't block until the server sends
// a response. They return a command struct which can be used to wait for the
// server response, see e.g. Command.
type Client struct {
	conn     net.Conn
	options  Options
	br       *bufio.Reader
	bw       *bufio.Writer
	dec      *imapwire.Decoder
	encMutex sync.Mutex
	slot     chan struct{} // held while a command is in progress

	greetingCh  chan struct{}
	greetingErr error

	mutex      sync.Mutex
	err        error
	state      imap.ConnState
	caps       imap.CapSet
	mailbox    *mailboxstate.State
	cmdTag     uint64
	pendingCmd command
	contReqs   []continuationRequest
}

// New creates a new IMAP client.
//
// This function doesn't perform I/O.
//
// A nil options pointer is equivalent to a zero options value.
func New(conn net.Conn, options *Options) *Client {
	if options == nil {
		options = &Options{}
	}

	rw := options.wrapReadWriter(conn)
	br := bufio.NewReader(rw)
	bw := bufio.NewWriter(rw)

	client := &Client{
		conn:       conn,
		options:    *options,
		br:         br,
		bw:         bw,
		dec:        imapwire.NewDecoder(br),
		slot:       make(chan struct{}, 1),
		greetingCh: make(chan struct{}),
		state:      imap.ConnStateNone,
	}
	go client.read()
	return client
}

// DialTLS connects to an IMAP server with implicit TLS.
func DialTLS(address string, options *Options) (*Client, error) {
	conn, err := tls.Dial("tcp", address, nil)
	if err != nil {
		return nil, err
	}
	return New(conn, options), nil
}

// DialInsecure connects to an IMAP server without any encryption at all.
func DialInsecure(address string, options *Options) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return New(conn, options), nil
}

// Close immediately closes the connection.
func (c *Client) Close() error {
	c.mutex.Lock()
	if c.err == nil {
		c.err = net.ErrClosed
	}
	c.mutex.Unlock()
	return c.conn.Close()
}

// closeWithError closes the connection after a framing failure. Pending
// commands fail with err.
func (c *Client) closeWithError(err error) {
	c.mutex.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mutex.Unlock()
	c.conn.Close()
}

// State returns the current connection state of the client.
func (c *Client) State() imap.ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Caps returns the capabilities advertised by the server.
//
// The result is nil until the server sends a CAPABILITY response or a
// CAPABILITY response code.
func (c *Client) Caps() imap.CapSet {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.caps == nil {
		return nil
	}
	return c.caps.Copy()
}

func (c *Client) setCaps(caps imap.CapSet) {
	c.mutex.Lock()
	c.caps = caps
	c.mutex.Unlock()
}

// Mailbox returns a snapshot of the currently selected mailbox, or nil if
// no mailbox is selected.
func (c *Client) Mailbox() imap.SelectedMailbox {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != imap.ConnStateSelected || c.mailbox == nil {
		return nil
	}
	return c.mailbox.Snapshot()
}

// withMailbox calls f with the mailbox being selected or already selected,
// if any.
func (c *Client) withMailbox(f func(st *mailboxstate.State)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.mailbox != nil {
		f(c.mailbox)
	}
}

// WaitGreeting waits for the server's initial greeting.
func (c *Client) WaitGreeting() error {
	<-c.greetingCh
	return c.greetingErr
}

func (c *Client) setGreeting(err error) {
	select {
	case <-c.greetingCh:
		return
	default:
	}
	c.greetingErr = err
	close(c.greetingCh)
}

// beginCommand starts sending a command to the server. It blocks until the
// previous command has completed.
//
// The caller must call commandEncoder.end.
func (c *Client) beginCommand(cmd command) *commandEncoder {
	baseCmd := cmd.base()
	*baseCmd = Command{
		done:    make(chan error, 1),
		timeout: c.options.CommandTimeout,
		client:  c,
		sent:    make(chan struct{}),
	}

	c.slot <- struct{}{} // released by completeCommand
	c.encMutex.Lock()    // unlocked by commandEncoder.end

	c.mutex.Lock()
	if err := c.err; err != nil {
		c.mutex.Unlock()
		c.encMutex.Unlock()
		<-c.slot
		baseCmd.err = err
		return &commandEncoder{client: c, cmd: baseCmd}
	}
	c.cmdTag++
	baseCmd.tag = fmt.Sprintf("T%v", c.cmdTag)
	c.pendingCmd = cmd
	c.mutex.Unlock()

	enc := imapwire.NewEncoder(c.bw)
	enc.LiteralPlus = c.options.LiteralPlus
	enc.LiteralMinus = c.options.LiteralMinus
	enc.ContinuationTimeout = c.options.ContinuationTimeout
	enc.NewContinuationRequest = func() *imapwire.ContinuationRequest {
		return c.registerContReq(cmd)
	}
	return &commandEncoder{
		Encoder: enc,
		client:  c,
		cmd:     baseCmd,
	}
}

func (c *Client) registerContReq(cmd command) *imapwire.ContinuationRequest {
	req := imapwire.NewContinuationRequest()

	c.mutex.Lock()
	err := c.err
	if err == nil {
		c.contReqs = append(c.contReqs, continuationRequest{
			ContinuationRequest: req,
			cmd:                 cmd.base(),
		})
	}
	c.mutex.Unlock()

	if err != nil {
		req.Cancel(err)
	}
	return req
}

// completeCommand applies the state transitions of a completed command and
// unblocks its waiters.
func (c *Client) completeCommand(cmd command, cmdErr error) {
	c.mutex.Lock()
	switch cmd := cmd.(type) {
	case *SelectCommand:
		if cmdErr == nil && c.mailbox != nil {
			c.state = imap.ConnStateSelected
			cmd.data = c.mailbox.Snapshot()
		} else {
			c.mailbox = nil
			if c.state == imap.ConnStateSelected {
				c.state = imap.ConnStateAuthenticated
			}
		}
	case *loginCommand:
		if cmdErr == nil {
			c.state = imap.ConnStateAuthenticated
		}
	case *LogoutCommand:
		if cmdErr == nil {
			c.state = imap.ConnStateLogout
		}
	}

	var filtered []continuationRequest
	for _, contReq := range c.contReqs {
		if contReq.cmd != cmd.base() {
			filtered = append(filtered, contReq)
			continue
		}
		// Ensure the command is not blocked waiting on continuation requests
		if cmdErr != nil {
			contReq.Cancel(cmdErr)
		} else {
			contReq.Cancel(errCommandDone)
		}
	}
	c.contReqs = filtered
	c.mutex.Unlock()

	if f, ok := cmd.(finisher); ok {
		f.finish()
	}

	done := cmd.base().done
	done <- cmdErr
	close(done)

	<-c.slot
}

// read continuously reads data coming from the server.
//
// All the data is decoded in the read goroutine, then dispatched to the
// pending command and the selected mailbox state.
func (c *Client) read() {
	var readErr error
	for {
		if c.dec.EOF() {
			readErr = io.ErrUnexpectedEOF
			break
		}
		if err := c.readResponse(); err != nil {
			readErr = err
			break
		}
	}

	c.mutex.Lock()
	closing := c.err != nil || c.state == imap.ConnStateLogout
	if c.err == nil {
		c.err = readErr
	}
	err := c.err
	cmd := c.pendingCmd
	c.pendingCmd = nil
	contReqs := c.contReqs
	c.contReqs = nil
	c.mailbox = nil
	c.state = imap.ConnStateLogout
	c.mutex.Unlock()

	if !closing {
		c.options.logger().Error("imapclient: connection failed", "err", readErr)
	}

	c.conn.Close()
	for _, contReq := range contReqs {
		contReq.Cancel(err)
	}
	if cmd != nil {
		c.completeCommand(cmd, err)
	}
	c.setGreeting(err)
}

func (c *Client) readResponse() error {
	if c.dec.Special('+') {
		if err := c.readContinueReq(); err != nil {
			return fmt.Errorf("in continue-req: %w", err)
		}
		return nil
	}

	var tag, typ string
	if !c.dec.Expect(c.dec.Special('*') || c.dec.Atom(&tag), "'*' or atom") {
		return fmt.Errorf("in response: cannot read tag: %w", c.dec.Err())
	}
	if !c.dec.ExpectSP() {
		return fmt.Errorf("in response: %w", c.dec.Err())
	}
	if !c.dec.ExpectAtom(&typ) {
		return fmt.Errorf("in response: cannot read type: %w", c.dec.Err())
	}

	var (
		token string
		err   error
	)
	if tag != "" {
		token = "response-tagged"
		err = c.readResponseTagged(tag, typ)
	} else {
		token = "response-data"
		err = c.readResponseData(typ)
	}
	if err != nil {
		return fmt.Errorf("in %v: %w", token, err)
	}

	if !c.dec.ExpectCRLF() {
		return fmt.Errorf("in response: %w", c.dec.Err())
	}
	return nil
}

func (c *Client) readContinueReq() error {
	var text string
	if c.dec.SP() {
		c.dec.Text(&text)
	}
	if !c.dec.ExpectCRLF() {
		return c.dec.Err()
	}

	var contReq *imapwire.ContinuationRequest
	c.mutex.Lock()
	if len(c.contReqs) > 0 {
		contReq = c.contReqs[0].ContinuationRequest
		c.contReqs = append(c.contReqs[:0], c.contReqs[1:]...)
	}
	c.mutex.Unlock()

	if contReq == nil {
		return fmt.Errorf("%w: unmatched continuation request", imap.ErrMalformedResponse)
	}

	contReq.Done(text)
	return nil
}

func (c *Client) readResponseTagged(tag, typ string) error {
	resp, err := c.readRespText(imap.StatusResponseType(strings.ToUpper(typ)))
	if err != nil {
		return err
	}
	switch resp.Type {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypeNo, imap.StatusResponseTypeBad:
		// ok
	default:
		return fmt.Errorf("%w: in resp-cond-state: expected OK, NO or BAD status condition, but got %v", imap.ErrMalformedResponse, typ)
	}

	c.mutex.Lock()
	cmd := c.pendingCmd
	if cmd == nil || cmd.base().tag != tag {
		c.mutex.Unlock()
		return fmt.Errorf("%w: received tagged response with unknown tag %q", imap.ErrMalformedResponse, tag)
	}
	c.pendingCmd = nil
	c.mutex.Unlock()

	c.completeCommand(cmd, resp.Err())
	return nil
}

// readRespText reads the remainder of a status response: an optional
// response code followed by human-readable text.
//
// Some servers omit the text. In that case the response code name, or the
// status type, is used instead so that Text is never empty.
func (c *Client) readRespText(typ imap.StatusResponseType) (*imap.StatusResponse, error) {
	resp := &imap.StatusResponse{Type: typ}
	if c.dec.SP() {
		if c.dec.Special('[') {
			var code string
			if !c.dec.ExpectAtom(&code) {
				return nil, fmt.Errorf("in resp-text-code: %w", c.dec.Err())
			}
			resp.Code = imap.ResponseCode(strings.ToUpper(code))
			if err := c.readRespTextCode(resp.Code); err != nil {
				return nil, fmt.Errorf("in resp-text-code: %w", err)
			}
			if !c.dec.ExpectSpecial(']') {
				return nil, fmt.Errorf("in resp-text: %w", c.dec.Err())
			}
			c.dec.SP()
		}
		c.dec.Text(&resp.Text)
	}
	if resp.Text == "" {
		if resp.Code != "" {
			resp.Text = string(resp.Code)
		} else {
			resp.Text = string(resp.Type)
		}
	}
	return resp, nil
}

func (c *Client) readRespTextCode(code imap.ResponseCode) error {
	switch code {
	case imap.ResponseCodeCapability:
		caps, err := readCapabilities(c.dec)
		if err != nil {
			return err
		}
		c.setCaps(caps)
	case imap.ResponseCodeUIDValidity, imap.ResponseCodeUIDNext, imap.ResponseCodeUnseen:
		var num int64
		if !c.dec.ExpectSP() || !c.dec.ExpectNumber64(&num) {
			return c.dec.Err()
		}
		c.withMailbox(func(st *mailboxstate.State) {
			switch code {
			case imap.ResponseCodeUIDValidity:
				st.SetUIDValidity(num)
			case imap.ResponseCodeUIDNext:
				st.SetUIDNext(num)
			case imap.ResponseCodeUnseen:
				st.SetFirstUnseen(num)
			}
		})
	case imap.ResponseCodePermanentFlags:
		if !c.dec.ExpectSP() {
			return c.dec.Err()
		}
		flags, err := readFlagList(c.dec)
		if err != nil {
			return err
		}
		c.withMailbox(func(st *mailboxstate.State) {
			st.SetPermanentFlags(flags)
		})
	case imap.ResponseCodeReadOnly, imap.ResponseCodeReadWrite:
		c.withMailbox(func(st *mailboxstate.State) {
			st.SetReadOnly(code == imap.ResponseCodeReadOnly)
		})
	default: // [SP 1*<any TEXT-CHAR except "]">]
		if c.dec.SP() {
			c.dec.Skip(']')
		}
	}
	return nil
}

func (c *Client) readResponseData(typ string) error {
	// number SP "EXISTS" / number SP "RECENT" / ...
	var num uint32
	if typ[0] >= '0' && typ[0] <= '9' {
		v, err := strconv.ParseUint(typ, 10, 32)
		if err != nil {
			return err
		}

		num = uint32(v)
		if !c.dec.ExpectSP() || !c.dec.ExpectAtom(&typ) {
			return c.dec.Err()
		}
	}
	typ = strings.ToUpper(typ)

	switch typ {
	case "OK", "NO", "BAD", "PREAUTH", "BYE": // resp-cond-state, resp-cond-auth, resp-cond-bye
		resp, err := c.readRespText(imap.StatusResponseType(typ))
		if err != nil {
			return err
		}
		c.handleStatus(resp)
	case "CAPABILITY":
		caps, err := readCapabilities(c.dec)
		if err != nil {
			return err
		}
		c.setCaps(caps)
	case "FLAGS":
		if !c.dec.ExpectSP() {
			return c.dec.Err()
		}
		flags, err := readFlagList(c.dec)
		if err != nil {
			return err
		}
		c.withMailbox(func(st *mailboxstate.State) {
			st.SetFlags(flags)
		})
	case "EXISTS":
		c.withMailbox(func(st *mailboxstate.State) {
			st.SetNumMessages(num)
		})
	case "RECENT":
		c.withMailbox(func(st *mailboxstate.State) {
			st.SetNumRecent(num)
		})
	case "EXPUNGE":
		c.handleExpunge(num)
	case "SEARCH":
		if err := c.handleSearch(); err != nil {
			return fmt.Errorf("in search: %w", err)
		}
	case "FETCH":
		if !c.dec.ExpectSP() {
			return c.dec.Err()
		}
		if err := c.handleFetch(num); err != nil {
			return fmt.Errorf("in msg-att: %w", err)
		}
	default:
		c.options.logger().Debug("imapclient: ignoring response", "type", typ)
		if !c.dec.DiscardLine() {
			return c.dec.Err()
		}
	}
	return nil
}

// handleStatus processes an untagged status response.
func (c *Client) handleStatus(resp *imap.StatusResponse) {
	c.mutex.Lock()
	greeting := c.state == imap.ConnStateNone
	if greeting {
		switch resp.Type {
		case imap.StatusResponseTypeOK:
			c.state = imap.ConnStateNotAuthenticated
		case imap.StatusResponseTypePreAuth:
			c.state = imap.ConnStateAuthenticated
		case imap.StatusResponseTypeBye:
			c.state = imap.ConnStateLogout
		}
	}
	c.mutex.Unlock()

	logger := c.options.logger()
	switch resp.Type {
	case imap.StatusResponseTypeBye:
		logger.Info("imapclient: server is closing the connection", "text", resp.Text)
		if greeting {
			c.setGreeting((*imap.Error)(resp))
		}
		return
	case imap.StatusResponseTypeNo, imap.StatusResponseTypeBad:
		logger.Warn("imapclient: server warning", "type", resp.Type, "code", resp.Code, "text", resp.Text)
	}
	if resp.Code == imap.ResponseCodeAlert {
		logger.Warn("imapclient: server alert", "text", resp.Text)
	}
	if greeting {
		if resp.Type.Failed() {
			c.setGreeting(resp.Err())
		} else {
			c.setGreeting(nil)
		}
	}
}
