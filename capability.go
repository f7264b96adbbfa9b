package imap

import (
	"strings"
)

// Cap represents an IMAP capability.
type Cap string

// Registered capabilities.
//
// See: https://www.iana.org/assignments/imap-capabilities/
const (
	CapIMAP4rev1 Cap = "IMAP4rev1" // RFC 3501
	CapIMAP4rev2 Cap = "IMAP4rev2" // RFC 9051

	CapStartTLS      Cap = "STARTTLS"
	CapLoginDisabled Cap = "LOGINDISABLED"

	CapLiteralPlus  Cap = "LITERAL+" // RFC 7888
	CapLiteralMinus Cap = "LITERAL-" // RFC 7888
	CapSASLIR       Cap = "SASL-IR"  // RFC 4959
	CapUnselect     Cap = "UNSELECT" // RFC 3691
)

// CapSet is a set of capabilities.
type CapSet map[Cap]struct{}

// Has checks whether a capability is supported.
//
// Some capabilities are implied by others, as such this method should be
// preferred over direct map access.
func (set CapSet) Has(c Cap) bool {
	if _, ok := set[c]; ok {
		return true
	}

	if set.has(CapIMAP4rev2) {
		switch c {
		case CapLiteralMinus, CapSASLIR, CapUnselect:
			return true
		}
	}
	if c == CapLiteralMinus && set.has(CapLiteralPlus) {
		return true
	}
	return false
}

func (set CapSet) has(c Cap) bool {
	_, ok := set[c]
	return ok
}

// AuthMechanisms returns the list of supported SASL mechanisms for
// authentication.
func (set CapSet) AuthMechanisms() []string {
	var l []string
	for c := range set {
		if mech, ok := strings.CutPrefix(string(c), "AUTH="); ok {
			l = append(l, mech)
		}
	}
	return l
}

// Copy returns a copy of the set.
func (set CapSet) Copy() CapSet {
	newSet := make(CapSet, len(set))
	for c := range set {
		newSet[c] = struct{}{}
	}
	return newSet
}
