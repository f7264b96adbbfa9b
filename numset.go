package imap

import (
	"fmt"

	"github.com/rnwood/go-imapcore/internal/imapnum"
)

// NumSet is a set of numbers identifying messages. NumSet is either a SeqSet
// or a UIDSet.
type NumSet interface {
	// String returns the IMAP representation of the message number set.
	String() string
	// Dynamic returns true if the set contains "*" or "n:*" ranges.
	Dynamic() bool
}

var (
	_ NumSet = SeqSet(nil)
	_ NumSet = UIDSet(nil)
)

// NumSetPart converts a number set into a command part. It fails if the set
// is empty.
func NumSetPart(set NumSet) (Constant, error) {
	s := set.String()
	if s == "" {
		return Constant{}, fmt.Errorf("%w: empty number set", ErrInvalidArgument)
	}
	return NewConstant(s)
}

// SeqSet is a set of message sequence numbers.
type SeqSet imapnum.Set[uint32]

// SeqSetNum returns a new SeqSet containing the specified sequence numbers.
func SeqSetNum(nums ...uint32) SeqSet {
	var s SeqSet
	s.AddNum(nums...)
	return s
}

// ParseSeqSet parses a sequence set such as "1:4,7,10:*".
func ParseSeqSet(s string) (SeqSet, error) {
	set, err := imapnum.Parse[uint32](s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return SeqSet(set), nil
}

func (s SeqSet) String() string {
	return imapnum.Set[uint32](s).String()
}

// Dynamic returns true if the set contains "*" or "n:*" values.
func (s SeqSet) Dynamic() bool {
	return imapnum.Set[uint32](s).Dynamic()
}

// Contains returns true if the non-zero sequence number is contained in the set.
func (s SeqSet) Contains(num uint32) bool {
	return imapnum.Set[uint32](s).Contains(num)
}

// Nums returns a slice of all sequence numbers contained in the set.
func (s SeqSet) Nums() ([]uint32, bool) {
	return imapnum.Set[uint32](s).Nums()
}

// AddNum inserts new sequence numbers into the set. The value 0 represents "*".
func (s *SeqSet) AddNum(nums ...uint32) {
	(*imapnum.Set[uint32])(s).AddNum(nums...)
}

// AddRange inserts a new range into the set.
func (s *SeqSet) AddRange(start, stop uint32) {
	(*imapnum.Set[uint32])(s).AddRange(start, stop)
}

// SeqRange is a range of message sequence numbers.
type SeqRange = imapnum.Range[uint32]

// UIDSet is a set of message UIDs.
type UIDSet imapnum.Set[UID]

// UIDSetNum returns a new UIDSet containing the specified UIDs.
func UIDSetNum(uids ...UID) UIDSet {
	var s UIDSet
	s.AddNum(uids...)
	return s
}

// ParseUIDSet parses a UID set such as "100:200".
func ParseUIDSet(s string) (UIDSet, error) {
	set, err := imapnum.Parse[UID](s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return UIDSet(set), nil
}

func (s UIDSet) String() string {
	return imapnum.Set[UID](s).String()
}

// Dynamic returns true if the set contains "*" or "n:*" values.
func (s UIDSet) Dynamic() bool {
	return imapnum.Set[UID](s).Dynamic()
}

// Contains returns true if the non-zero UID is contained in the set.
func (s UIDSet) Contains(uid UID) bool {
	return imapnum.Set[UID](s).Contains(uid)
}

// Nums returns a slice of all UIDs contained in the set.
func (s UIDSet) Nums() ([]UID, bool) {
	return imapnum.Set[UID](s).Nums()
}

// AddNum inserts new UIDs into the set. The value 0 represents "*".
func (s *UIDSet) AddNum(uids ...UID) {
	(*imapnum.Set[UID])(s).AddNum(uids...)
}

// AddRange inserts a new range into the set.
func (s *UIDSet) AddRange(start, stop UID) {
	(*imapnum.Set[UID])(s).AddRange(start, stop)
}

// UIDRange is a range of message UIDs.
type UIDRange = imapnum.Range[UID]
