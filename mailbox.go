package imap

import (
	"strings"
)

// SelectOptions contains options for the SELECT or EXAMINE command.
type SelectOptions struct {
	ReadOnly bool
}

// SelectedMailbox is a read-only view of the currently selected mailbox.
//
// Numeric attributes the server hasn't reported are NumUnknown.
type SelectedMailbox interface {
	// Name returns the mailbox name, which is never empty.
	Name() string
	UIDValidity() int64
	// Flags returns the flags defined for this mailbox.
	Flags() []Flag
	// PermanentFlags returns the flags the client can change permanently.
	// It may contain FlagWildcard.
	PermanentFlags() []Flag
	ReadOnly() bool
	UIDNext() int64
	// FirstUnseen returns the sequence number of the first unseen message.
	FirstUnseen() int64
	// NumMessages returns the number of messages in the mailbox (aka.
	// "EXISTS").
	NumMessages() uint32
	// NumRecent returns the number of messages with the \Recent flag.
	NumRecent() uint32
	// String returns a multi-line human-readable summary.
	String() string
}

// CanonicalMailboxName returns the canonical form of a mailbox name. INBOX is
// case-insensitive.
func CanonicalMailboxName(name string) string {
	if strings.EqualFold(name, InboxName) {
		return InboxName
	}
	return name
}
