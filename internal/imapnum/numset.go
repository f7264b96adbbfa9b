// Package imapnum implements sets of message numbers (RFC 3501 sequence-set).
package imapnum

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// star is the sort key of "*", which is greater than any number.
const star = uint64(1) << 32

// Range is a single seq-number ("n", Start == Stop) or seq-range ("n:m")
// value. Zero represents "*". After normalization Start <= Stop, "*" last.
type Range[T ~uint32] struct {
	Start, Stop T
}

func key[T ~uint32](v T) uint64 {
	if v == 0 {
		return star
	}
	return uint64(v)
}

func (r Range[T]) normalize() Range[T] {
	if key(r.Start) > key(r.Stop) {
		r.Start, r.Stop = r.Stop, r.Start
	}
	return r
}

// Contains returns true if the non-zero number q is in the range.
func (r Range[T]) Contains(q T) bool {
	return q != 0 && key(r.Start) <= uint64(q) && uint64(q) <= key(r.Stop)
}

// String returns the wire representation of the range.
func (r Range[T]) String() string {
	if r.Start == r.Stop {
		return formatNum(r.Start)
	}
	return formatNum(r.Start) + ":" + formatNum(r.Stop)
}

func formatNum[T ~uint32](v T) string {
	if v == 0 {
		return "*"
	}
	return strconv.FormatUint(uint64(v), 10)
}

// Set is a sorted list of disjoint ranges. The zero value is an empty set.
type Set[T ~uint32] []Range[T]

// AddNum inserts numbers into the set. The value 0 represents "*".
func (s *Set[T]) AddNum(nums ...T) {
	for _, v := range nums {
		*s = append(*s, Range[T]{v, v})
	}
	s.compact()
}

// AddRange inserts a range into the set, in either order.
func (s *Set[T]) AddRange(start, stop T) {
	*s = append(*s, Range[T]{start, stop}.normalize())
	s.compact()
}

// AddSet inserts all values from other into s.
func (s *Set[T]) AddSet(other Set[T]) {
	*s = append(*s, other...)
	s.compact()
}

// compact sorts the ranges and merges those which overlap or touch.
func (s *Set[T]) compact() {
	l := *s
	for i := range l {
		l[i] = l[i].normalize()
	}
	sort.Slice(l, func(i, j int) bool {
		return key(l[i].Start) < key(l[j].Start)
	})

	out := l[:0]
	for _, r := range l {
		if n := len(out); n > 0 && key(r.Start) <= key(out[n-1].Stop)+1 {
			if key(r.Stop) > key(out[n-1].Stop) {
				out[n-1].Stop = r.Stop
			}
			continue
		}
		out = append(out, r)
	}
	*s = out
}

// Dynamic returns true if the set contains "*" or "n:*" values.
func (s Set[T]) Dynamic() bool {
	for _, r := range s {
		if r.Stop == 0 {
			return true
		}
	}
	return false
}

// Contains returns true if the non-zero number q is in the set.
func (s Set[T]) Contains(q T) bool {
	for _, r := range s {
		if r.Contains(q) {
			return true
		}
	}
	return false
}

// Nums returns all numbers in the set. It returns false if the set is
// dynamic.
func (s Set[T]) Nums() ([]T, bool) {
	var nums []T
	for _, r := range s {
		if r.Stop == 0 {
			return nil, false
		}
		for v := uint64(r.Start); v <= uint64(r.Stop); v++ {
			nums = append(nums, T(v))
		}
	}
	return nums, true
}

// String returns the wire representation of the set, or an empty string for
// an empty set.
func (s Set[T]) String() string {
	l := make([]string, len(s))
	for i, r := range s {
		l[i] = r.String()
	}
	return strings.Join(l, ",")
}

// ParseError is returned by Parse for a malformed set.
type ParseError struct {
	Value string
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("imap: bad number set value %q", err.Value)
}

func parseNum[T ~uint32](s string) (T, error) {
	if s == "*" {
		return 0, nil
	}
	if s == "" || s[0] == '0' {
		return 0, &ParseError{s}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, &ParseError{s}
	}
	return T(v), nil
}

// Parse parses a sequence-set such as "1,3:5,7:*".
func Parse[T ~uint32](s string) (Set[T], error) {
	var set Set[T]
	for _, item := range strings.Split(s, ",") {
		startStr, stopStr, isRange := strings.Cut(item, ":")
		start, err := parseNum[T](startStr)
		if err != nil {
			return nil, err
		}
		stop := start
		if isRange {
			if stop, err = parseNum[T](stopStr); err != nil {
				return nil, err
			}
		}
		set = append(set, Range[T]{start, stop})
	}
	set.compact()
	return set, nil
}
