package imapclient

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/imapwire"
)

// FetchStreamHandler is called for each message data item carrying a
// payload, before the payload is read from the connection.
//
// The handler runs on a goroutine owned by the FETCH command. It must not
// issue commands on the same client. It may set FetchStreamContext.Sink to
// receive the payload; if it doesn't, the payload is discarded.
type FetchStreamHandler func(ctx *FetchStreamContext)

// FetchStreamContext describes a message data item about to be streamed.
type FetchStreamContext struct {
	// Sink receives the item's payload. It is used for this item only.
	Sink io.Writer

	resp  FetchResponse
	item  FetchItem
	reply chan struct{}
}

// Response returns the FETCH response the item belongs to.
func (ctx *FetchStreamContext) Response() *FetchResponse {
	return &ctx.resp
}

// Item returns the data item being streamed.
func (ctx *FetchStreamContext) Item() *FetchItem {
	return &ctx.item
}

// FetchResponse is the part of a FETCH response decoded so far.
type FetchResponse struct {
	seqNum uint32
	uid    imap.UID
	flags  []imap.Flag
}

// SeqNum returns the message sequence number.
func (resp *FetchResponse) SeqNum() uint32 {
	return resp.seqNum
}

// UID returns the message UID, or zero if the server hasn't sent it before
// the current item.
func (resp *FetchResponse) UID() imap.UID {
	return resp.uid
}

// Flags returns the message flags, if the server sent them before the
// current item.
func (resp *FetchResponse) Flags() []imap.Flag {
	return append([]imap.Flag(nil), resp.flags...)
}

func (resp *FetchResponse) copy() FetchResponse {
	return FetchResponse{
		seqNum: resp.seqNum,
		uid:    resp.uid,
		flags:  resp.Flags(),
	}
}

// FetchItem is a message data item carrying a payload.
type FetchItem struct {
	name string
	size int64
}

// Name returns the data item name as sent by the server, including the
// section and origin, e.g. "BODY[HEADER]<0>".
func (item *FetchItem) Name() string {
	return item.name
}

// Size returns the size of the payload in bytes.
func (item *FetchItem) Size() int64 {
	return item.size
}

// FetchStreamError is a failure to deliver a message data item to its sink.
//
// The payload is still consumed from the connection, so a sink failure
// doesn't affect other items or the session.
type FetchStreamError struct {
	SeqNum uint32
	Item   string
	Err    error
}

func (err *FetchStreamError) Error() string {
	return fmt.Sprintf("imapclient: failed to stream %v of message %v: %v", err.Item, err.SeqNum, err.Err)
}

func (err *FetchStreamError) Unwrap() error {
	return err.Err
}

// Fetch sends a FETCH command.
//
// items are message data item names, such as "UID" or "BODY.PEEK[]". The
// handler is called for each item with a payload, it may be nil.
func (c *Client) Fetch(seqSet imap.SeqSet, items []string, handler FetchStreamHandler) *FetchCommand {
	return c.fetch(seqSet, items, handler)
}

// UIDFetch sends a UID FETCH command.
//
// See Fetch.
func (c *Client) UIDFetch(uidSet imap.UIDSet, items []string, handler FetchStreamHandler) *FetchCommand {
	return c.fetch(uidSet, items, handler)
}

func (c *Client) fetch(numSet imap.NumSet, items []string, handler FetchStreamHandler) *FetchCommand {
	_, uid := numSet.(imap.UIDSet)

	// Ensure we request UID as the first data item for UID FETCH, to be safer.
	// We want to get it before any literal.
	if uid {
		itemsWithUID := []string{"UID"}
		for _, item := range items {
			if !strings.EqualFold(item, "UID") {
				itemsWithUID = append(itemsWithUID, item)
			}
		}
		items = itemsWithUID
	}

	cmd := &FetchCommand{}
	parts, err := fetchParts(uid, numSet, items)
	if err != nil {
		failedCommand(cmd, err)
		return cmd
	}

	cmd.router = newStreamRouter(handler)
	enc := c.beginCommand(cmd)
	defer enc.end()
	if !enc.ok() {
		cmd.router.finish()
	}
	enc.send(parts)
	return cmd
}

func fetchParts(uid bool, numSet imap.NumSet, items []string) (imap.Command, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no FETCH data items", imap.ErrInvalidArgument)
	}
	numSetPart, err := imap.NumSetPart(numSet)
	if err != nil {
		return nil, fmt.Errorf("invalid FETCH message set: %w", err)
	}
	for _, item := range items {
		if _, err := imap.NewConstant(item); err != nil {
			return nil, fmt.Errorf("invalid FETCH data item: %w", err)
		}
	}
	itemsPart, err := imap.NewConstant("(" + strings.Join(items, " ") + ")")
	if err != nil {
		return nil, err
	}

	var parts imap.Command
	if uid {
		parts = append(parts, imap.MustConstant("UID"))
	}
	return append(parts, imap.MustConstant("FETCH"), numSetPart, itemsPart), nil
}

// FetchCommand is a FETCH command.
type FetchCommand struct {
	cmd
	router *streamRouter
}

func (cmd *FetchCommand) finish() {
	cmd.router.finish()
}

// Wait blocks until the command has completed.
//
// Items which couldn't be delivered to their sink are reported as
// *FetchStreamError values, separately from the command's completion error.
func (cmd *FetchCommand) Wait() ([]*FetchStreamError, error) {
	err := cmd.cmd.Wait()
	if cmd.router == nil {
		return nil, err
	}
	return cmd.router.errors(), err
}

// streamRouter forwards message data items to a FetchStreamHandler.
//
// The read loop sends a context for each item to the handler goroutine, and
// waits for its reply before streaming the payload to the chosen sink.
type streamRouter struct {
	handler FetchStreamHandler
	reqs    chan *FetchStreamContext
	once    sync.Once

	mutex sync.Mutex
	errs  []*FetchStreamError
}

func newStreamRouter(handler FetchStreamHandler) *streamRouter {
	r := &streamRouter{
		handler: handler,
		reqs:    make(chan *FetchStreamContext),
	}
	go r.serve()
	return r
}

func (r *streamRouter) serve() {
	for ctx := range r.reqs {
		if r.handler != nil {
			r.handler(ctx)
		}
		close(ctx.reply)
	}
}

// finish stops the handler goroutine. It must be called from the goroutine
// calling route.
func (r *streamRouter) finish() {
	r.once.Do(func() {
		close(r.reqs)
	})
}

// route streams size bytes from src to the sink chosen by the handler. A nil
// router discards the payload.
//
// The returned error is a read error: the connection can no longer be
// framed. Sink errors are recorded and the payload is drained.
func (r *streamRouter) route(resp *FetchResponse, name string, src io.Reader, size int64) error {
	var sink io.Writer
	if r != nil {
		ctx := &FetchStreamContext{
			resp:  resp.copy(),
			item:  FetchItem{name: name, size: size},
			reply: make(chan struct{}),
		}
		r.reqs <- ctx
		<-ctx.reply
		sink = ctx.Sink
	}
	if sink == nil {
		sink = io.Discard
	}

	dw := &drainWriter{w: sink}
	if _, err := io.CopyN(dw, src, size); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if dw.err != nil && r != nil {
		r.mutex.Lock()
		r.errs = append(r.errs, &FetchStreamError{
			SeqNum: resp.seqNum,
			Item:   name,
			Err:    dw.err,
		})
		r.mutex.Unlock()
	}
	return nil
}

func (r *streamRouter) errors() []*FetchStreamError {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]*FetchStreamError(nil), r.errs...)
}

// drainWriter writes to w until w fails, then silently discards the rest.
type drainWriter struct {
	w   io.Writer
	err error
}

func (dw *drainWriter) Write(b []byte) (int, error) {
	if dw.err == nil {
		if _, err := dw.w.Write(b); err != nil {
			dw.err = err
		}
	}
	return len(b), nil
}

func (c *Client) handleFetch(seqNum uint32) error {
	var router *streamRouter
	c.mutex.Lock()
	if cmd, ok := c.pendingCmd.(*FetchCommand); ok {
		router = cmd.router
	}
	c.mutex.Unlock()

	return readMsgAtt(c.dec, seqNum, router)
}

func readMsgAtt(dec *imapwire.Decoder, seqNum uint32, router *streamRouter) error {
	resp := &FetchResponse{seqNum: seqNum}
	return dec.ExpectList(func() error {
		name, err := readMsgAttName(dec)
		if err != nil {
			return err
		}
		if !dec.ExpectSP() {
			return dec.Err()
		}

		switch name {
		case "UID":
			var uid uint32
			if !dec.ExpectNumber(&uid) {
				return dec.Err()
			}
			resp.uid = imap.UID(uid)
		case "FLAGS":
			flags, err := readFlagList(dec)
			if err != nil {
				return err
			}
			resp.flags = flags
		default:
			return routeMsgAttValue(dec, router, resp, name)
		}
		return nil
	})
}

// readMsgAttName reads a message data item name, with its optional section
// and origin, e.g. "BODY[HEADER.FIELDS (SUBJECT)]<0>".
func readMsgAttName(dec *imapwire.Decoder) (string, error) {
	var name string
	if !dec.Expect(dec.Func(&name, isMsgAttNameChar), "msg-att name") {
		return "", dec.Err()
	}
	name = strings.ToUpper(name)
	if !dec.Special('[') {
		return name, nil
	}

	var section string
	dec.Func(&section, func(ch byte) bool {
		return ch != ']' && ch != '\r' && ch != '\n'
	})
	if !dec.ExpectSpecial(']') {
		return "", dec.Err()
	}
	name += "[" + section + "]"

	if dec.Special('<') {
		var origin uint32
		if !dec.ExpectNumber(&origin) || !dec.ExpectSpecial('>') {
			return "", dec.Err()
		}
		name += fmt.Sprintf("<%v>", origin)
	}
	return name, nil
}

func isMsgAttNameChar(ch byte) bool {
	return ch != '[' && ch != '<' && imapwire.IsAtomChar(ch)
}

// routeMsgAttValue streams literal values, and quoted section values, to the
// router. Other values are discarded.
func routeMsgAttValue(dec *imapwire.Decoder, router *streamRouter, resp *FetchResponse, name string) error {
	var lit *imapwire.LiteralReader
	if dec.Literal(&lit) {
		return router.route(resp, name, lit, lit.Size())
	} else if err := dec.Err(); err != nil {
		return err
	}

	var s string
	if dec.Quoted(&s) {
		if !isSectionItem(name) {
			return nil
		}
		return router.route(resp, name, strings.NewReader(s), int64(len(s)))
	} else if err := dec.Err(); err != nil {
		return err
	}

	if !dec.Expect(dec.DiscardValue(), "msg-att value") {
		return dec.Err()
	}
	return nil
}

func isSectionItem(name string) bool {
	return strings.ContainsRune(name, '[') || (strings.HasPrefix(name, "RFC822") && name != "RFC822.SIZE")
}
