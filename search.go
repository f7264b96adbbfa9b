package imap

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dateLayout is the RFC 3501 date format.
const dateLayout = "2-Jan-2006"

// SearchCriteria is a criteria for the SEARCH command.
//
// When multiple fields are populated, the result is the intersection ("and"
// function) of all messages that match the fields.
type SearchCriteria struct {
	SeqNum []SeqSet
	UID    []UIDSet

	// Only the date is used, the time and timezone are ignored
	Since      time.Time
	Before     time.Time
	SentSince  time.Time
	SentBefore time.Time

	Header []SearchCriteriaHeaderField
	Body   []string
	Text   []string

	Flag    []Flag
	NotFlag []Flag

	Larger  int64
	Smaller int64

	Not *SearchCriteria
	Or  [][2]SearchCriteria
}

// SearchCriteriaHeaderField matches messages whose header field Key contains
// Value.
type SearchCriteriaHeaderField struct {
	Key, Value string
}

// Parts returns the search keys as command parts. An empty criteria matches
// all messages.
//
// Free-form text, such as header values, is carried by LiteralString parts.
func (criteria *SearchCriteria) Parts() (Command, error) {
	keys, err := criteria.keys()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return Command{MustConstant("ALL")}, nil
	}
	var parts Command
	for _, key := range keys {
		parts = append(parts, key...)
	}
	return parts, nil
}

// group returns the criteria as a single search key, parenthesized if it's
// made of several keys.
func (criteria *SearchCriteria) group() (Command, error) {
	keys, err := criteria.keys()
	if err != nil {
		return nil, err
	}
	switch len(keys) {
	case 0:
		return Command{MustConstant("ALL")}, nil
	case 1:
		return keys[0], nil
	}
	parts := Command{MustConstant("(")}
	for _, key := range keys {
		parts = append(parts, key...)
	}
	return append(parts, MustConstant(")")), nil
}

func (criteria *SearchCriteria) keys() ([]Command, error) {
	var keys []Command

	for _, seqSet := range criteria.SeqNum {
		part, err := NumSetPart(seqSet)
		if err != nil {
			return nil, fmt.Errorf("in sequence set search key: %w", err)
		}
		keys = append(keys, Command{part})
	}
	for _, uidSet := range criteria.UID {
		part, err := NumSetPart(uidSet)
		if err != nil {
			return nil, fmt.Errorf("in UID search key: %w", err)
		}
		keys = append(keys, Command{MustConstant("UID"), part})
	}

	keys = appendDateKeys(keys, "", criteria.Since, criteria.Before)
	keys = appendDateKeys(keys, "SENT", criteria.SentSince, criteria.SentBefore)

	for _, kv := range criteria.Header {
		switch k := strings.ToUpper(kv.Key); k {
		case "BCC", "CC", "FROM", "SUBJECT", "TO":
			keys = append(keys, Command{MustConstant(k), NewLiteralString(kv.Value)})
		default:
			keys = append(keys, Command{MustConstant("HEADER"), NewLiteralString(kv.Key), NewLiteralString(kv.Value)})
		}
	}
	for _, s := range criteria.Body {
		keys = append(keys, Command{MustConstant("BODY"), NewLiteralString(s)})
	}
	for _, s := range criteria.Text {
		keys = append(keys, Command{MustConstant("TEXT"), NewLiteralString(s)})
	}

	for _, flag := range criteria.Flag {
		key, err := flagSearchKey("", flag)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	for _, flag := range criteria.NotFlag {
		key, err := flagSearchKey("UN", flag)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if criteria.Larger > 0 {
		keys = append(keys, Command{MustConstant("LARGER"), MustConstant(strconv.FormatInt(criteria.Larger, 10))})
	}
	if criteria.Smaller > 0 {
		keys = append(keys, Command{MustConstant("SMALLER"), MustConstant(strconv.FormatInt(criteria.Smaller, 10))})
	}

	if criteria.Not != nil {
		key, err := criteria.Not.group()
		if err != nil {
			return nil, err
		}
		keys = append(keys, append(Command{MustConstant("NOT")}, key...))
	}
	for i := range criteria.Or {
		left, err := criteria.Or[i][0].group()
		if err != nil {
			return nil, err
		}
		right, err := criteria.Or[i][1].group()
		if err != nil {
			return nil, err
		}
		key := append(Command{MustConstant("OR")}, left...)
		keys = append(keys, append(key, right...))
	}

	return keys, nil
}

// appendDateKeys appends the ON, SINCE and BEFORE keys, prefixed with
// prefix. A one-day range is sent as ON.
func appendDateKeys(keys []Command, prefix string, since, before time.Time) []Command {
	if !since.IsZero() && !before.IsZero() && before.Sub(since) == 24*time.Hour {
		return append(keys, Command{MustConstant(prefix + "ON"), MustConstant(since.Format(dateLayout))})
	}
	if !since.IsZero() {
		keys = append(keys, Command{MustConstant(prefix + "SINCE"), MustConstant(since.Format(dateLayout))})
	}
	if !before.IsZero() {
		keys = append(keys, Command{MustConstant(prefix + "BEFORE"), MustConstant(before.Format(dateLayout))})
	}
	return keys
}

func flagSearchKey(prefix string, flag Flag) (Command, error) {
	switch flag {
	case FlagAnswered, FlagDeleted, FlagDraft, FlagFlagged, FlagSeen:
		return Command{MustConstant(prefix + strings.ToUpper(strings.TrimPrefix(string(flag), "\\")))}, nil
	}
	keyword, err := NewConstant(string(flag))
	if err != nil {
		return nil, fmt.Errorf("invalid search keyword: %w", err)
	}
	return Command{MustConstant(prefix + "KEYWORD"), keyword}, nil
}

// SearchData is the data returned by a SEARCH command.
type SearchData struct {
	// All is a SeqSet, or a UIDSet for UID SEARCH.
	All NumSet
}

// AllSeqNums returns All as a slice of sequence numbers.
func (data *SearchData) AllSeqNums() []uint32 {
	seqSet, ok := data.All.(SeqSet)
	if !ok {
		return nil
	}
	// Note: a dynamic sequence set would be a server bug
	nums, _ := seqSet.Nums()
	return nums
}

// AllUIDs returns All as a slice of UIDs.
func (data *SearchData) AllUIDs() []UID {
	uidSet, ok := data.All.(UIDSet)
	if !ok {
		return nil
	}
	uids, _ := uidSet.Nums()
	return uids
}
