package imapclient

import (
	"unicode"

	"github.com/rnwood/go-imapcore"
)

// Search sends a SEARCH command. A nil criteria matches all messages.
func (c *Client) Search(criteria *imap.SearchCriteria) *SearchCommand {
	return c.search(false, criteria)
}

// UIDSearch sends a UID SEARCH command.
func (c *Client) UIDSearch(criteria *imap.SearchCriteria) *SearchCommand {
	return c.search(true, criteria)
}

func (c *Client) search(uid bool, criteria *imap.SearchCriteria) *SearchCommand {
	if criteria == nil {
		criteria = &imap.SearchCriteria{}
	}

	cmd := &SearchCommand{uid: uid}
	keys, err := criteria.Parts()
	if err != nil {
		failedCommand(cmd, err)
		return cmd
	}

	var parts imap.Command
	if uid {
		parts = append(parts, imap.MustConstant("UID"))
	}
	parts = append(parts, imap.MustConstant("SEARCH"))
	// IMAP4rev1 only requires US-ASCII support, and some servers reject the
	// CHARSET keyword, so only send it when needed
	if !searchCriteriaIsASCII(criteria) {
		parts = append(parts, imap.MustConstant("CHARSET"), imap.MustConstant("UTF-8"))
	}
	c.execute(cmd, append(parts, keys...))
	return cmd
}

func (c *Client) handleSearch() error {
	var nums []uint32
	for c.dec.SP() {
		var num uint32
		if !c.dec.ExpectNumber(&num) {
			return c.dec.Err()
		}
		nums = append(nums, num)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if cmd, ok := c.pendingCmd.(*SearchCommand); ok {
		cmd.nums = append(cmd.nums, nums...)
	}
	return nil
}

// SearchCommand is a SEARCH command.
type SearchCommand struct {
	cmd
	uid  bool
	nums []uint32
}

// Wait blocks until the command has completed and returns the matching
// messages.
func (cmd *SearchCommand) Wait() (*imap.SearchData, error) {
	if err := cmd.cmd.Wait(); err != nil {
		return nil, err
	}

	data := &imap.SearchData{}
	if cmd.uid {
		var uidSet imap.UIDSet
		for _, num := range cmd.nums {
			uidSet.AddNum(imap.UID(num))
		}
		data.All = uidSet
	} else {
		var seqSet imap.SeqSet
		seqSet.AddNum(cmd.nums...)
		data.All = seqSet
	}
	return data, nil
}

func searchCriteriaIsASCII(criteria *imap.SearchCriteria) bool {
	for _, kv := range criteria.Header {
		if !isASCII(kv.Key) || !isASCII(kv.Value) {
			return false
		}
	}
	for _, s := range criteria.Body {
		if !isASCII(s) {
			return false
		}
	}
	for _, s := range criteria.Text {
		if !isASCII(s) {
			return false
		}
	}
	if criteria.Not != nil && !searchCriteriaIsASCII(criteria.Not) {
		return false
	}
	for _, or := range criteria.Or {
		if !searchCriteriaIsASCII(&or[0]) || !searchCriteriaIsASCII(&or[1]) {
			return false
		}
	}
	return true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
