package imapclient_test

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/imapclient"
)

// testServer is the server end of a pipe. Its methods return errors instead
// of failing the test, since they run outside of the test goroutine.
type testServer struct {
	conn net.Conn
	br   *bufio.Reader
}

func (s *testServer) write(lines ...string) error {
	for _, line := range lines {
		if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

func (s *testServer) expect(want string) error {
	line, err := s.br.ReadString('\n')
	if err != nil {
		return err
	}
	if got := strings.TrimSuffix(line, "\r\n"); got != want {
		return fmt.Errorf("expected line %q, got %q", want, got)
	}
	return nil
}

func (s *testServer) readN(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(s.br, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func newTestClient(t *testing.T, options *imapclient.Options) (*imapclient.Client, *testServer) {
	clientConn, serverConn := net.Pipe()
	if options == nil {
		options = &imapclient.Options{}
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client := imapclient.New(clientConn, options)
	t.Cleanup(func() {
		client.Close()
		serverConn.Close()
	})
	return client, &testServer{conn: serverConn, br: bufio.NewReader(serverConn)}
}

func TestClient_Login(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* OK [CAPABILITY IMAP4rev1 LITERAL+ AUTH=PLAIN] Server ready"); err != nil {
			return err
		}
		if err := server.expect(`T1 LOGIN "alice" "secret"`); err != nil {
			return err
		}
		return server.write("T1 OK [CAPABILITY IMAP4rev1 UNSELECT] Logged in")
	})

	require.NoError(t, client.WaitGreeting())
	assert.Equal(t, imap.ConnStateNotAuthenticated, client.State())
	assert.Equal(t, []string{"PLAIN"}, client.Caps().AuthMechanisms())

	require.NoError(t, client.Login("alice", "secret").Wait())
	require.NoError(t, g.Wait())

	assert.Equal(t, imap.ConnStateAuthenticated, client.State())
	assert.True(t, client.Caps().Has(imap.CapUnselect))
	assert.False(t, client.Caps().Has(imap.CapLiteralPlus))
}

func TestClient_Login_syncLiteral(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* OK Server ready"); err != nil {
			return err
		}
		if err := server.expect(`T1 LOGIN "alice" {9}`); err != nil {
			return err
		}
		if err := server.write("+ Ready for literal data"); err != nil {
			return err
		}
		password, err := server.readN(9)
		if err != nil {
			return err
		} else if password != "pass\r\nwrd" {
			return fmt.Errorf("unexpected password %q", password)
		}
		if err := server.expect(""); err != nil {
			return err
		}
		return server.write("T1 OK Logged in")
	})

	require.NoError(t, client.Login("alice", "pass\r\nwrd").Wait())
	require.NoError(t, g.Wait())
}

func TestClient_Login_literalRejected(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* OK Server ready"); err != nil {
			return err
		}
		if err := server.expect(`T1 LOGIN "alice" {2}`); err != nil {
			return err
		}
		if err := server.write("T1 NO Non-ASCII passwords are not supported"); err != nil {
			return err
		}
		if err := server.expect("T2 NOOP"); err != nil {
			return err
		}
		return server.write("T2 OK NOOP completed")
	})

	err := client.Login("alice", "é").Wait()
	var imapErr *imap.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, imap.StatusResponseTypeNo, imapErr.StatusCode())

	// The session is still usable
	require.NoError(t, client.Noop().Wait())
	require.NoError(t, g.Wait())
}

func TestClient_greetingBye(t *testing.T) {
	client, server := newTestClient(t, nil)

	go server.write("* BYE Too many connections")

	err := client.WaitGreeting()
	var imapErr *imap.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, imap.StatusResponseTypeBye, imapErr.StatusCode())
	assert.Equal(t, "Too many connections", imapErr.StatusText())
}

func TestClient_Select(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		err := server.write(
			"* PREAUTH Logged in as alice",
		)
		if err != nil {
			return err
		}
		if err := server.expect("T1 SELECT INBOX"); err != nil {
			return err
		}
		err = server.write(
			"* 172 EXISTS",
			"* 1 RECENT",
			"* OK [UNSEEN 12] Message 12 is first unseen",
			"* OK [UIDVALIDITY 3857529045] UIDs valid",
			"* OK [UIDNEXT 4392] Predicted next UID",
			`* FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`,
			`* OK [PERMANENTFLAGS (\Deleted \Seen \*)] Limited`,
			"T1 OK [READ-WRITE] SELECT completed",
		)
		if err != nil {
			return err
		}
		if err := server.expect("T2 NOOP"); err != nil {
			return err
		}
		err = server.write(
			"* 3 EXPUNGE",
			"* 2 RECENT",
			"T2 OK NOOP completed",
		)
		if err != nil {
			return err
		}
		if err := server.expect("T3 CLOSE"); err != nil {
			return err
		}
		return server.write("T3 OK CLOSE completed")
	})

	require.NoError(t, client.WaitGreeting())
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())

	mbox, err := client.Select("inbox", nil).Wait()
	require.NoError(t, err)
	assert.Equal(t, imap.ConnStateSelected, client.State())

	assert.Equal(t, "INBOX", mbox.Name())
	assert.Equal(t, uint32(172), mbox.NumMessages())
	assert.Equal(t, uint32(1), mbox.NumRecent())
	assert.Equal(t, int64(12), mbox.FirstUnseen())
	assert.Equal(t, int64(3857529045), mbox.UIDValidity())
	assert.Equal(t, int64(4392), mbox.UIDNext())
	assert.False(t, mbox.ReadOnly())
	assert.Equal(t, []imap.Flag{imap.FlagAnswered, imap.FlagFlagged, imap.FlagDeleted, imap.FlagSeen, imap.FlagDraft}, mbox.Flags())
	assert.Equal(t, []imap.Flag{imap.FlagDeleted, imap.FlagSeen, imap.FlagWildcard}, mbox.PermanentFlags())
	assert.Equal(t, "Name: INBOX\n"+
		"UidValidity: 3857529045\n"+
		"Flags: \\Answered,\\Flagged,\\Deleted,\\Seen,\\Draft\n"+
		"PermanentFlags: \\Deleted,\\Seen,\\*\n"+
		"IsReadOnly: false\n"+
		"UidNext: 4392\n"+
		"FirstUnseen: 12\n"+
		"MessagesCount: 172\n"+
		"RecentMessagesCount: 1\n", mbox.String())

	require.NoError(t, client.Noop().Wait())

	// The snapshot returned by Wait doesn't observe later updates
	assert.Equal(t, uint32(172), mbox.NumMessages())
	current := client.Mailbox()
	require.NotNil(t, current)
	assert.Equal(t, uint32(171), current.NumMessages())
	assert.Equal(t, uint32(2), current.NumRecent())

	require.NoError(t, client.UnselectAndExpunge().Wait())
	require.NoError(t, g.Wait())
	assert.Nil(t, client.Mailbox())
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())
}

func TestClient_Select_failed(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect(`T1 EXAMINE "Entw&APw-rfe"`); err != nil {
			return err
		}
		return server.write("T1 NO [TRYCREATE] Mailbox does not exist")
	})

	mbox, err := client.Select("Entwürfe", &imap.SelectOptions{ReadOnly: true}).Wait()
	require.NoError(t, g.Wait())
	assert.Nil(t, mbox)

	var imapErr *imap.Error
	require.ErrorAs(t, err, &imapErr)
	assert.Equal(t, imap.StatusResponseTypeNo, imapErr.StatusCode())
	assert.Equal(t, imap.ResponseCodeTryCreate, imapErr.Code)
	assert.Equal(t, "Mailbox does not exist", imapErr.StatusText())
	assert.Equal(t, "imap: NO [TRYCREATE] Mailbox does not exist", err.Error())

	assert.Nil(t, client.Mailbox())
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())
}

func TestClient_Select_emptyName(t *testing.T) {
	client, _ := newTestClient(t, nil)

	_, err := client.Select("", nil).Wait()
	assert.ErrorIs(t, err, imap.ErrInvalidArgument)
}

func TestClient_Execute(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect(`T1 LIST "" *`); err != nil {
			return err
		}
		return server.write(
			`* LIST (\HasNoChildren) "/" INBOX`,
			`* LIST (\HasNoChildren) "/" {7}`+"\r\nArchive",
			"T1 OK LIST completed",
		)
	})

	err := client.Execute(imap.Command{
		imap.MustConstant("LIST"),
		imap.NewLiteralString(""),
		imap.MustConstant("*"),
	}).Wait()
	require.NoError(t, err)
	require.NoError(t, g.Wait())

	assert.ErrorIs(t, client.Execute(nil).Wait(), imap.ErrInvalidArgument)
	// Rejected before anything is written, the session stays usable
	assert.ErrorIs(t, client.Execute(imap.Command{imap.MustConstant("NOOP"), imap.Constant{}}).Wait(), imap.ErrInvalidArgument)
	assert.ErrorIs(t, client.Execute(imap.Command{imap.MustConstant("NOOP"), nil}).Wait(), imap.ErrInvalidArgument)
	assert.Equal(t, imap.ConnStateAuthenticated, client.State())
}

func TestClient_Append(t *testing.T) {
	client, server := newTestClient(t, &imapclient.Options{LiteralPlus: true})

	const msg = "Subject: hi\r\n\r\nhello"

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect(fmt.Sprintf("T1 APPEND INBOX {%v+}", len(msg))); err != nil {
			return err
		}
		body, err := server.readN(len(msg))
		if err != nil {
			return err
		} else if body != msg {
			return fmt.Errorf("unexpected message %q", body)
		}
		if err := server.expect(""); err != nil {
			return err
		}
		return server.write("T1 OK APPEND completed")
	})

	appendCmd := client.Append("INBOX", int64(len(msg)))
	_, err := io.WriteString(appendCmd, msg)
	require.NoError(t, err)
	require.NoError(t, appendCmd.Close())
	require.NoError(t, appendCmd.Wait())
	require.NoError(t, g.Wait())
}

func TestClient_Logout(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* OK Server ready"); err != nil {
			return err
		}
		if err := server.expect("T1 LOGOUT"); err != nil {
			return err
		}
		return server.write("* BYE Logging out", "T1 OK LOGOUT completed")
	})

	require.NoError(t, client.Logout().Wait())
	require.NoError(t, g.Wait())
	assert.Equal(t, imap.ConnStateLogout, client.State())

	// Commands issued after the connection is gone fail immediately
	assert.Error(t, client.Noop().Wait())
}

func TestClient_Expunge(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect(`T1 CREATE "Entw&APw-rfe"`); err != nil {
			return err
		}
		if err := server.write("T1 OK CREATE completed"); err != nil {
			return err
		}
		if err := server.expect(`T2 SELECT "Entw&APw-rfe"`); err != nil {
			return err
		}
		if err := server.write("* 4 EXISTS", "T2 OK [READ-WRITE] SELECT completed"); err != nil {
			return err
		}
		if err := server.expect("T3 EXPUNGE"); err != nil {
			return err
		}
		return server.write("* 3 EXPUNGE", "* 1 EXPUNGE", "T3 OK EXPUNGE completed")
	})

	require.NoError(t, client.Create("Entwürfe").Wait())
	_, err := client.Select("Entwürfe", nil).Wait()
	require.NoError(t, err)

	seqNums, err := client.Expunge().Wait()
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Equal(t, []uint32{3, 1}, seqNums)
	assert.Equal(t, uint32(2), client.Mailbox().NumMessages())
}
