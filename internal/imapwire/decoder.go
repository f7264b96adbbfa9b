package imapwire

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// A Decoder reads IMAP data.
//
// Methods return a bool indicating whether the expected token was read. The
// first error is kept and can be retrieved with Err. Methods prefixed with
// Expect record an error when the token is missing.
type Decoder struct {
	r   *bufio.Reader
	err error
}

// NewDecoder creates a new decoder.
func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{r: r}
}

func (dec *Decoder) mustUnreadByte() {
	if err := dec.r.UnreadByte(); err != nil {
		panic(fmt.Errorf("imapwire: failed to unread byte: %v", err))
	}
}

// Err returns the first error encountered by the decoder.
func (dec *Decoder) Err() error {
	return dec.err
}

func (dec *Decoder) returnErr(err error) bool {
	if err == nil {
		return true
	}
	if dec.err == nil {
		dec.err = err
	}
	return false
}

func (dec *Decoder) readByte() (byte, bool) {
	if dec.err != nil {
		return 0, false
	}
	b, err := dec.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return b, dec.returnErr(err)
	}
	return b, true
}

func (dec *Decoder) acceptByte(want byte) bool {
	got, ok := dec.readByte()
	if !ok {
		return false
	} else if got != want {
		dec.mustUnreadByte()
		return false
	}
	return true
}

func (dec *Decoder) peekByte(want byte) bool {
	if dec.err != nil {
		return false
	}
	b, err := dec.r.Peek(1)
	return err == nil && b[0] == want
}

// EOF returns true if the end of the stream has been reached.
func (dec *Decoder) EOF() bool {
	_, err := dec.r.ReadByte()
	if err == io.EOF {
		return true
	} else if err != nil {
		return !dec.returnErr(err)
	}
	dec.mustUnreadByte()
	return false
}

// Expect records an error named after the expected token if ok is false.
func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok {
		err := fmt.Errorf("expected %v", name)
		if dec.r.Buffered() > 0 {
			b, _ := dec.r.Peek(1)
			err = fmt.Errorf("%v, got %q", err, string(b))
		}
		return dec.returnErr(err)
	}
	return true
}

func (dec *Decoder) SP() bool {
	return dec.acceptByte(' ')
}

func (dec *Decoder) ExpectSP() bool {
	return dec.Expect(dec.SP(), "SP")
}

func (dec *Decoder) CRLF() bool {
	return dec.acceptByte('\r') && dec.acceptByte('\n')
}

func (dec *Decoder) ExpectCRLF() bool {
	return dec.Expect(dec.CRLF(), "CRLF")
}

// Func reads a sequence of bytes for which valid returns true.
func (dec *Decoder) Func(ptr *string, valid func(ch byte) bool) bool {
	var sb strings.Builder
	for {
		b, ok := dec.readByte()
		if !ok {
			return false
		}
		if !valid(b) {
			dec.mustUnreadByte()
			break
		}
		sb.WriteByte(b)
	}
	if sb.Len() == 0 {
		return false
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) Atom(ptr *string) bool {
	return dec.Func(ptr, IsAtomChar)
}

func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "atom")
}

func (dec *Decoder) Special(b byte) bool {
	return dec.acceptByte(b)
}

func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("'%v'", string(b)))
}

// Text reads the remaining bytes until CR or LF.
func (dec *Decoder) Text(ptr *string) bool {
	return dec.Func(ptr, func(ch byte) bool {
		return ch != '\r' && ch != '\n'
	})
}

func (dec *Decoder) ExpectText(ptr *string) bool {
	return dec.Expect(dec.Text(ptr), "text")
}

// Skip discards bytes until untilCh, which isn't consumed.
func (dec *Decoder) Skip(untilCh byte) {
	for {
		ch, ok := dec.readByte()
		if !ok {
			return
		} else if ch == untilCh {
			dec.mustUnreadByte()
			return
		}
	}
}

func (dec *Decoder) numberStr() (string, bool) {
	var s string
	ok := dec.Func(&s, func(ch byte) bool {
		return ch >= '0' && ch <= '9'
	})
	return s, ok
}

func (dec *Decoder) Number(ptr *uint32) bool {
	s, ok := dec.numberStr()
	if !ok {
		return false
	}
	v64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return dec.returnErr(err)
	}
	*ptr = uint32(v64)
	return true
}

func (dec *Decoder) ExpectNumber(ptr *uint32) bool {
	return dec.Expect(dec.Number(ptr), "number")
}

func (dec *Decoder) Number64(ptr *int64) bool {
	s, ok := dec.numberStr()
	if !ok {
		return false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return dec.returnErr(err)
	}
	*ptr = v
	return true
}

func (dec *Decoder) ExpectNumber64(ptr *int64) bool {
	return dec.Expect(dec.Number64(ptr), "number64")
}

// Quoted reads a quoted string.
func (dec *Decoder) Quoted(ptr *string) bool {
	if !dec.Special('"') {
		return false
	}
	var sb strings.Builder
	for {
		ch, ok := dec.readByte()
		if !ok {
			return false
		}

		if ch == '"' {
			break
		}

		if ch == '\\' {
			ch, ok = dec.readByte()
			if !ok {
				return false
			}
		}

		if ch == '\r' || ch == '\n' {
			return dec.returnErr(fmt.Errorf("CR and LF are not allowed in quoted strings"))
		}

		sb.WriteByte(ch)
	}
	*ptr = sb.String()
	return true
}

func (dec *Decoder) ExpectQuoted(ptr *string) bool {
	return dec.Expect(dec.Quoted(ptr), "quoted string")
}

// String reads a quoted string or a literal.
func (dec *Decoder) String(ptr *string) bool {
	if dec.Quoted(ptr) {
		return true
	}
	var lit *LiteralReader
	if !dec.Literal(&lit) {
		return false
	}
	b, err := io.ReadAll(lit)
	if err != nil {
		return dec.returnErr(err)
	}
	*ptr = string(b)
	return true
}

func (dec *Decoder) ExpectString(ptr *string) bool {
	return dec.Expect(dec.String(ptr), "string")
}

// AString reads an atom, a quoted string or a literal.
func (dec *Decoder) AString(ptr *string) bool {
	if dec.String(ptr) {
		return true
	}
	return dec.Func(ptr, func(ch byte) bool {
		return IsAtomChar(ch) || ch == ']'
	})
}

func (dec *Decoder) ExpectAString(ptr *string) bool {
	return dec.Expect(dec.AString(ptr), "astring")
}

// Literal reads a literal header, or a literal8 header ("~{n}", RFC 3516).
// The caller must consume the returned reader entirely before using the
// decoder again.
func (dec *Decoder) Literal(ptr **LiteralReader) bool {
	binary := dec.peekLiteral8()
	if binary {
		dec.r.Discard(1)
	}
	if !dec.Special('{') {
		return false
	}
	var size int64
	if !dec.ExpectNumber64(&size) {
		return false
	}
	nonSync := dec.Special('+')
	if !dec.ExpectSpecial('}') || !dec.ExpectCRLF() {
		return false
	}
	*ptr = &LiteralReader{
		r:       &io.LimitedReader{R: dec.r, N: size},
		size:    size,
		NonSync: nonSync,
		Binary:  binary,
	}
	return true
}

// peekLiteral8 returns true if the next bytes start a literal8 header.
func (dec *Decoder) peekLiteral8() bool {
	if dec.err != nil {
		return false
	}
	b, err := dec.r.Peek(2)
	return err == nil && string(b) == "~{"
}

func (dec *Decoder) ExpectLiteral(ptr **LiteralReader) bool {
	return dec.Expect(dec.Literal(ptr), "literal")
}

// List reads a parenthesized list, calling f for each item.
func (dec *Decoder) List(f func() error) (isList bool, err error) {
	if !dec.Special('(') {
		return false, nil
	}
	if dec.Special(')') {
		return true, nil
	}

	for {
		if err := f(); err != nil {
			return true, err
		}

		if dec.Special(')') {
			return true, nil
		} else if !dec.ExpectSP() {
			return true, dec.Err()
		}
	}
}

func (dec *Decoder) ExpectList(f func() error) error {
	isList, err := dec.List(f)
	if err != nil {
		return err
	} else if !dec.Expect(isList, "(") {
		return dec.Err()
	}
	return nil
}

// DiscardValue skips a single value: an atom or number, a quoted string, a
// literal or a (possibly nested) parenthesized list.
func (dec *Decoder) DiscardValue() bool {
	var s string
	switch {
	case dec.peekByte('('):
		return dec.ExpectList(func() error {
			if !dec.Expect(dec.DiscardValue(), "value") {
				return dec.Err()
			}
			return nil
		}) == nil
	case dec.peekByte('"'):
		return dec.Quoted(&s)
	case dec.peekByte('{') || dec.peekLiteral8():
		var lit *LiteralReader
		if !dec.Literal(&lit) {
			return false
		}
		_, err := io.Copy(io.Discard, lit)
		return dec.returnErr(err)
	default:
		return dec.Func(&s, func(ch byte) bool {
			return ch != ' ' && ch != '(' && ch != ')' && ch != '\r' && ch != '\n'
		})
	}
}

// DiscardLine skips everything up to the next CRLF which isn't part of a
// literal or literal8 header. The CRLF itself isn't consumed.
func (dec *Decoder) DiscardLine() bool {
	for {
		ch, ok := dec.readByte()
		if !ok {
			return false
		}
		switch ch {
		case '\r', '\n':
			dec.mustUnreadByte()
			return true
		case '{':
			size, ok := dec.literalHeaderTail()
			if !ok {
				if dec.err != nil {
					return false
				}
				continue
			}
			if _, err := io.CopyN(io.Discard, dec.r, size); err != nil {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				return dec.returnErr(err)
			}
		}
	}
}

// literalHeaderTail reads the remainder of a literal header after '{',
// including the CRLF. It returns false without consuming the line ending if
// the bytes don't form a literal header.
func (dec *Decoder) literalHeaderTail() (int64, bool) {
	s, ok := dec.numberStr()
	if !ok {
		return 0, false
	}
	dec.Special('+')
	if !dec.Special('}') {
		return 0, false
	}
	b, err := dec.r.Peek(2)
	if err != nil || string(b) != "\r\n" {
		return 0, false
	}
	dec.r.Discard(2)
	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dec.returnErr(err)
	}
	return size, true
}

// LiteralReader is a reader for IMAP literals.
type LiteralReader struct {
	r    *io.LimitedReader
	size int64
	// NonSync is true for "{n+}" literals.
	NonSync bool
	// Binary is true for "~{n}" literals, which may contain NUL bytes.
	Binary bool
}

// Size returns the declared size of the literal.
func (lit *LiteralReader) Size() int64 {
	return lit.size
}

// Read implements io.Reader.
func (lit *LiteralReader) Read(b []byte) (int, error) {
	n, err := lit.r.Read(b)
	if err == io.EOF && lit.r.N > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
