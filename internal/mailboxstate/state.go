// Package mailboxstate holds the state of the selected mailbox.
//
// A *State is the mutation handle: only the client's response-processing
// path, which can import this internal package, updates it. Callers observe
// it through the read-only imap.SelectedMailbox interface.
package mailboxstate

import (
	"fmt"
	"strings"

	"github.com/rnwood/go-imapcore"
)

// State is the server's view of the selected mailbox.
//
// Setters don't validate their input: values reported by the server are
// stored verbatim and the last write wins.
type State struct {
	name           string
	uidValidity    int64
	flags          []imap.Flag
	permanentFlags []imap.Flag
	readOnly       bool
	uidNext        int64
	firstUnseen    int64
	numMessages    uint32
	numRecent      uint32
}

var _ imap.SelectedMailbox = (*State)(nil)

// New creates the state for a mailbox which is being selected.
func New(name string) (*State, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty mailbox name", imap.ErrInvalidArgument)
	}
	return &State{
		name:        name,
		uidValidity: imap.NumUnknown,
		uidNext:     imap.NumUnknown,
		firstUnseen: imap.NumUnknown,
	}, nil
}

func (st *State) Name() string {
	return st.name
}

func (st *State) UIDValidity() int64 {
	return st.uidValidity
}

func (st *State) Flags() []imap.Flag {
	return copyFlags(st.flags)
}

func (st *State) PermanentFlags() []imap.Flag {
	return copyFlags(st.permanentFlags)
}

func (st *State) ReadOnly() bool {
	return st.readOnly
}

func (st *State) UIDNext() int64 {
	return st.uidNext
}

func (st *State) FirstUnseen() int64 {
	return st.firstUnseen
}

func (st *State) NumMessages() uint32 {
	return st.numMessages
}

func (st *State) NumRecent() uint32 {
	return st.numRecent
}

func (st *State) SetUIDValidity(v int64) {
	st.uidValidity = v
}

func (st *State) SetFlags(flags []imap.Flag) {
	st.flags = copyFlags(flags)
}

func (st *State) SetPermanentFlags(flags []imap.Flag) {
	st.permanentFlags = copyFlags(flags)
}

func (st *State) SetReadOnly(readOnly bool) {
	st.readOnly = readOnly
}

func (st *State) SetUIDNext(v int64) {
	st.uidNext = v
}

func (st *State) SetFirstUnseen(seqNum int64) {
	st.firstUnseen = seqNum
}

func (st *State) SetNumMessages(n uint32) {
	st.numMessages = n
}

func (st *State) SetNumRecent(n uint32) {
	st.numRecent = n
}

// Expunge records the removal of a message.
func (st *State) Expunge() {
	if st.numMessages > 0 {
		st.numMessages--
	}
}

// Snapshot returns a copy of the state which won't observe further updates.
func (st *State) Snapshot() imap.SelectedMailbox {
	snapshot := *st
	snapshot.flags = copyFlags(st.flags)
	snapshot.permanentFlags = copyFlags(st.permanentFlags)
	return &snapshot
}

// String returns one "Field: value" line per attribute, in a fixed order.
func (st *State) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %v\n", st.name)
	fmt.Fprintf(&sb, "UidValidity: %v\n", st.uidValidity)
	fmt.Fprintf(&sb, "Flags: %v\n", joinFlags(st.flags))
	fmt.Fprintf(&sb, "PermanentFlags: %v\n", joinFlags(st.permanentFlags))
	fmt.Fprintf(&sb, "IsReadOnly: %v\n", st.readOnly)
	fmt.Fprintf(&sb, "UidNext: %v\n", st.uidNext)
	fmt.Fprintf(&sb, "FirstUnseen: %v\n", st.firstUnseen)
	fmt.Fprintf(&sb, "MessagesCount: %v\n", st.numMessages)
	fmt.Fprintf(&sb, "RecentMessagesCount: %v\n", st.numRecent)
	return sb.String()
}

func joinFlags(flags []imap.Flag) string {
	l := make([]string, len(flags))
	for i, flag := range flags {
		l[i] = string(flag)
	}
	return strings.Join(l, ",")
}

func copyFlags(flags []imap.Flag) []imap.Flag {
	if flags == nil {
		return nil
	}
	return append([]imap.Flag(nil), flags...)
}
