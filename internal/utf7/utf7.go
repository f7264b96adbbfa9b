// Package utf7 implements the modified UTF-7 encoding used for mailbox
// names, defined in RFC 3501 section 5.1.3.
package utf7

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

const (
	min = 0x20 // Minimum self-representing UTF-7 value
	max = 0x7E // Maximum self-representing UTF-7 value
)

// ErrInvalidUTF7 means that a decoder encountered invalid UTF-7.
var ErrInvalidUTF7 = errors.New("utf7: invalid UTF-7")

var b64 = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,").
	WithPadding(base64.NoPadding).
	Strict()

var utf16be = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

func isPrintable(r rune) bool {
	return r >= min && r <= max
}

// Encode encodes a mailbox name.
func Encode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if isPrintable(r) {
			if r == '&' {
				sb.WriteString("&-")
			} else {
				sb.WriteByte(byte(r))
			}
			i += size
			continue
		}

		j := i
		for j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if isPrintable(r) {
				break
			}
			j += size
		}

		sb.WriteByte('&')
		sb.WriteString(encodeRun(s[i:j]))
		sb.WriteByte('-')
		i = j
	}

	return sb.String()
}

func encodeRun(s string) string {
	// Invalid UTF-8 is replaced with U+FFFD by the UTF-16 encoder
	b, err := utf16be.NewEncoder().Bytes([]byte(s))
	if err != nil {
		panic(err) // unreachable
	}
	return b64.EncodeToString(b)
}

// Decode decodes a mailbox name.
func Decode(s string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(s))

	afterRun := false
	for i := 0; i < len(s); {
		ch := s[i]
		if !isPrintable(rune(ch)) {
			return "", ErrInvalidUTF7
		}
		if ch != '&' {
			sb.WriteByte(ch)
			afterRun = false
			i++
			continue
		}

		end := strings.IndexByte(s[i+1:], '-')
		if end < 0 {
			return "", ErrInvalidUTF7
		}
		run := s[i+1 : i+1+end]
		i += end + 2

		if run == "" {
			sb.WriteByte('&')
			afterRun = false
			continue
		}
		if afterRun {
			// Two adjacent runs must be merged into one
			return "", ErrInvalidUTF7
		}

		decoded, err := decodeRun(run)
		if err != nil {
			return "", err
		}
		sb.WriteString(decoded)
		afterRun = true
	}

	return sb.String(), nil
}

func decodeRun(run string) (string, error) {
	b, err := b64.DecodeString(run)
	if err != nil || len(b)%2 != 0 {
		return "", ErrInvalidUTF7
	}

	out, err := utf16be.NewDecoder().String(string(b))
	if err != nil {
		return "", ErrInvalidUTF7
	}
	for _, r := range out {
		// Unpaired surrogates are decoded as U+FFFD, printable ASCII must be
		// represented as itself
		if r == utf8.RuneError || isPrintable(r) {
			return "", ErrInvalidUTF7
		}
	}
	return out, nil
}
