package mailboxstate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/mailboxstate"
)

func TestNew(t *testing.T) {
	st, err := mailboxstate.New("INBOX")
	require.NoError(t, err)

	assert.Equal(t, "INBOX", st.Name())
	assert.Equal(t, imap.NumUnknown, st.UIDValidity())
	assert.Equal(t, imap.NumUnknown, st.UIDNext())
	assert.Equal(t, imap.NumUnknown, st.FirstUnseen())
	assert.Equal(t, uint32(0), st.NumMessages())
	assert.Equal(t, uint32(0), st.NumRecent())
	assert.Empty(t, st.Flags())
	assert.Empty(t, st.PermanentFlags())
	assert.False(t, st.ReadOnly())
}

func TestNew_emptyName(t *testing.T) {
	_, err := mailboxstate.New("")
	assert.ErrorIs(t, err, imap.ErrInvalidArgument)
}

func TestState_String(t *testing.T) {
	st, err := mailboxstate.New("INBOX")
	require.NoError(t, err)

	st.SetNumMessages(42)
	st.SetNumRecent(3)

	s := st.String()
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	assert.Equal(t, []string{
		"Name: INBOX",
		"UidValidity: -1",
		"Flags: ",
		"PermanentFlags: ",
		"IsReadOnly: false",
		"UidNext: -1",
		"FirstUnseen: -1",
		"MessagesCount: 42",
		"RecentMessagesCount: 3",
	}, lines)

	// Rendering is idempotent
	assert.Equal(t, s, st.String())
}

func TestState_lastWriteWins(t *testing.T) {
	st, err := mailboxstate.New("Archive")
	require.NoError(t, err)

	st.SetFlags([]imap.Flag{imap.FlagSeen, imap.FlagDeleted})
	st.SetFlags([]imap.Flag{imap.FlagAnswered})
	st.SetPermanentFlags([]imap.Flag{imap.FlagSeen, imap.FlagWildcard})
	st.SetUIDValidity(3857529045)
	st.SetUIDNext(4392)
	st.SetFirstUnseen(17)
	st.SetReadOnly(true)
	st.SetNumMessages(10)
	st.SetNumMessages(172)

	assert.Equal(t, []imap.Flag{imap.FlagAnswered}, st.Flags())
	assert.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagWildcard}, st.PermanentFlags())
	assert.Equal(t, int64(3857529045), st.UIDValidity())
	assert.Equal(t, int64(4392), st.UIDNext())
	assert.Equal(t, int64(17), st.FirstUnseen())
	assert.True(t, st.ReadOnly())
	assert.Equal(t, uint32(172), st.NumMessages())
	assert.Contains(t, st.String(), "PermanentFlags: \\Seen,\\*\n")
	assert.Contains(t, st.String(), "IsReadOnly: true\n")
}

func TestState_Expunge(t *testing.T) {
	st, err := mailboxstate.New("INBOX")
	require.NoError(t, err)

	st.SetNumMessages(1)
	st.Expunge()
	st.Expunge()
	assert.Equal(t, uint32(0), st.NumMessages())
}

func TestState_Snapshot(t *testing.T) {
	st, err := mailboxstate.New("INBOX")
	require.NoError(t, err)
	st.SetFlags([]imap.Flag{imap.FlagSeen})
	st.SetNumMessages(5)

	snapshot := st.Snapshot()
	st.SetNumMessages(6)
	st.SetFlags([]imap.Flag{imap.FlagDraft})

	assert.Equal(t, uint32(5), snapshot.NumMessages())
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, snapshot.Flags())

	flags := snapshot.Flags()
	flags[0] = imap.FlagDeleted
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, snapshot.Flags())
}
