// Package imap implements the protocol-encoding and session-state core of an
// IMAP4rev1 client.
//
// IMAP4rev1 is defined in RFC 3501. The types in this package are shared by
// the wire encoder and the client: command parts, status responses and the
// read-only view of the selected mailbox.
package imap

// ConnState describes the connection state.
//
// See RFC 3501 section 3.
type ConnState int

const (
	ConnStateNone ConnState = iota
	ConnStateNotAuthenticated
	ConnStateAuthenticated
	ConnStateSelected
	ConnStateLogout
)

// String implements fmt.Stringer.
func (state ConnState) String() string {
	switch state {
	case ConnStateNone:
		return "none"
	case ConnStateNotAuthenticated:
		return "not authenticated"
	case ConnStateAuthenticated:
		return "authenticated"
	case ConnStateSelected:
		return "selected"
	case ConnStateLogout:
		return "logout"
	default:
		panic("imap: unknown connection state")
	}
}

// Flag is a message flag.
//
// Message flags are defined in RFC 3501 section 2.3.2.
type Flag string

const (
	// System flags
	FlagSeen     Flag = "\\Seen"
	FlagAnswered Flag = "\\Answered"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagDraft    Flag = "\\Draft"
	FlagRecent   Flag = "\\Recent"

	// Permanent flags
	FlagWildcard Flag = "\\*"
)

// UID is a message unique identifier.
type UID uint32

// NumUnknown is the value of numeric mailbox attributes the server hasn't
// reported yet.
const NumUnknown int64 = -1

// InboxName is the name of the primary mailbox, which is case-insensitive.
const InboxName = "INBOX"
