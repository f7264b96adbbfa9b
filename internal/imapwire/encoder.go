package imapwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/utf7"
)

// maxQuotedLen is the length above which strings are always sent as
// literals.
const maxQuotedLen = 4096

// An Encoder writes IMAP commands.
//
// Most methods don't return an error, instead they defer error handling until
// CRLF is called. These methods return the Encoder so that calls can be
// chained.
type Encoder struct {
	// LiteralMinus enables non-synchronizing literals for short payloads.
	// This requires LITERAL- or LITERAL+.
	LiteralMinus bool
	// LiteralPlus enables non-synchronizing literals for all payloads. This
	// requires LITERAL+.
	LiteralPlus bool
	// NewContinuationRequest creates a new continuation request. It's called
	// for each synchronizing literal, before the literal header is written.
	NewContinuationRequest func() *ContinuationRequest
	// ContinuationTimeout bounds the wait for a continuation request. Zero
	// means no timeout.
	ContinuationTimeout time.Duration

	w       *bufio.Writer
	err     error
	literal bool
	sep     bool // a SP is needed before the next command part
}

// NewEncoder creates a new encoder.
func NewEncoder(w *bufio.Writer) *Encoder {
	return &Encoder{w: w}
}

func (enc *Encoder) setErr(err error) {
	if enc.err == nil {
		enc.err = err
	}
}

// Err returns the first error encountered by the encoder.
func (enc *Encoder) Err() error {
	return enc.err
}

func (enc *Encoder) writeString(s string) *Encoder {
	if enc.err != nil {
		return enc
	}
	if enc.literal {
		enc.err = fmt.Errorf("imapwire: cannot encode while a literal is open")
		return enc
	}
	if _, err := enc.w.WriteString(s); err != nil {
		enc.err = err
	}
	return enc
}

// CRLF writes a "\r\n" sequence and flushes the buffered writer.
func (enc *Encoder) CRLF() error {
	enc.writeString("\r\n")
	if enc.err != nil {
		return enc.err
	}
	return enc.w.Flush()
}

// Command writes a complete tagged command, terminated by CRLF.
func (enc *Encoder) Command(tag string, cmd imap.Command) error {
	enc.Parts(tag, cmd)
	return enc.CRLF()
}

// Parts writes a tag followed by the command parts, in order. Parts are
// separated by a single SP, unless a constant already ends with one. List
// delimiters need no separator: none is written after a constant ending with
// "(" nor before a constant starting with ")".
func (enc *Encoder) Parts(tag string, cmd imap.Command) *Encoder {
	if len(cmd) == 0 {
		enc.setErr(fmt.Errorf("imapwire: cannot encode empty command"))
		return enc
	}
	enc.Atom(tag)
	enc.sep = true
	for _, part := range cmd {
		enc.Part(part)
	}
	return enc
}

// Part writes a single command part.
func (enc *Encoder) Part(part imap.CommandPart) *Encoder {
	switch part := part.(type) {
	case imap.Constant:
		if !part.Valid() {
			enc.setErr(fmt.Errorf("imapwire: invalid constant command part"))
			return enc
		}
		text := part.Value()
		if enc.sep && text[0] != ')' {
			enc.SP()
		}
		enc.writeString(text)
		enc.sep = !strings.HasSuffix(text, " ") && !strings.HasSuffix(text, "(")
	case imap.LiteralString:
		if enc.sep {
			enc.SP()
		}
		enc.String(part.Value())
		enc.sep = true
	default:
		enc.setErr(fmt.Errorf("imapwire: unsupported command part %T", part))
	}
	return enc
}

func (enc *Encoder) Atom(s string) *Encoder {
	return enc.writeString(s)
}

func (enc *Encoder) SP() *Encoder {
	return enc.writeString(" ")
}

func (enc *Encoder) Special(ch byte) *Encoder {
	return enc.writeString(string(ch))
}

// Text writes s verbatim.
func (enc *Encoder) Text(s string) *Encoder {
	return enc.writeString(s)
}

func (enc *Encoder) Quoted(s string) *Encoder {
	var sb strings.Builder
	sb.Grow(2 + len(s))
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' || ch == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(ch)
	}
	sb.WriteByte('"')
	return enc.writeString(sb.String())
}

// String writes s as a quoted string if possible, and as a literal otherwise.
func (enc *Encoder) String(s string) *Encoder {
	if !ValidQuoted(s) {
		enc.stringLiteral(s)
		return enc
	}
	return enc.Quoted(s)
}

// ValidQuoted returns true if s can be sent as a quoted string without
// altering it: short, and only printable ASCII characters.
func ValidQuoted(s string) bool {
	if len(s) > maxQuotedLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isCTL(ch) || ch > 0x7f {
			return false
		}
	}
	return true
}

func (enc *Encoder) stringLiteral(s string) {
	wc := enc.StreamLiteral(int64(len(s)))
	_, writeErr := io.WriteString(wc, s)
	closeErr := wc.Close()
	if writeErr != nil {
		enc.setErr(writeErr)
	} else if closeErr != nil {
		enc.setErr(closeErr)
	}
}

// StreamLiteral writes a literal header and returns a writer for its
// contents. The literal is non-synchronizing if LiteralPlus is set, or if
// LiteralMinus is set and the literal is short enough. Otherwise a
// continuation request is obtained from NewContinuationRequest.
func (enc *Encoder) StreamLiteral(size int64) io.WriteCloser {
	var sync *ContinuationRequest
	if (!enc.LiteralMinus || size > maxQuotedLen) && !enc.LiteralPlus {
		if enc.NewContinuationRequest != nil {
			sync = enc.NewContinuationRequest()
		}
		if sync == nil {
			err := fmt.Errorf("imapwire: cannot send synchronizing literal")
			enc.setErr(err)
			return errorWriter{err}
		}
	}
	return enc.Literal(size, sync)
}

// Mailbox writes a mailbox name, encoded with modified UTF-7.
func (enc *Encoder) Mailbox(name string) *Encoder {
	if strings.EqualFold(name, imap.InboxName) {
		return enc.Atom(imap.InboxName)
	}
	return enc.String(utf7.Encode(name))
}

func (enc *Encoder) Number(v uint32) *Encoder {
	return enc.writeString(strconv.FormatUint(uint64(v), 10))
}

func (enc *Encoder) Number64(v int64) *Encoder {
	if v < 0 {
		enc.setErr(fmt.Errorf("imapwire: cannot encode negative number %v", v))
		return enc
	}
	return enc.writeString(strconv.FormatInt(v, 10))
}

// Literal writes a literal.
//
// The caller must write exactly size bytes to the returned writer.
//
// If sync is non-nil, the literal is synchronizing: the encoder flushes the
// literal header and waits for the continuation request before returning.
// Otherwise a non-synchronizing literal header ("{n+}") is written.
func (enc *Encoder) Literal(size int64, sync *ContinuationRequest) io.WriteCloser {
	// TODO: literal8 for BINARY APPEND
	enc.writeString("{")
	enc.Number64(size)
	if sync == nil {
		enc.writeString("+")
	}
	enc.writeString("}")

	if sync == nil {
		enc.writeString("\r\n")
	} else {
		if err := enc.CRLF(); err != nil {
			return errorWriter{err}
		}
		if _, err := sync.WaitTimeout(enc.ContinuationTimeout); err != nil {
			enc.setErr(err)
			return errorWriter{err}
		}
	}
	if enc.err != nil {
		return errorWriter{enc.err}
	}

	enc.literal = true
	return &literalWriter{
		enc: enc,
		n:   size,
	}
}

type errorWriter struct {
	err error
}

func (ew errorWriter) Write(b []byte) (int, error) {
	return 0, ew.err
}

func (ew errorWriter) Close() error {
	return ew.err
}

type literalWriter struct {
	enc *Encoder
	n   int64
}

func (lw *literalWriter) Write(b []byte) (int, error) {
	if lw.n-int64(len(b)) < 0 {
		return 0, fmt.Errorf("wrote too many bytes in literal")
	}
	n, err := lw.enc.w.Write(b)
	lw.n -= int64(n)
	return n, err
}

func (lw *literalWriter) Close() error {
	lw.enc.literal = false
	if lw.n != 0 {
		err := fmt.Errorf("wrote too few bytes in literal (%v remaining)", lw.n)
		lw.enc.setErr(err)
		return err
	}
	return nil
}
