package imapclient_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/imapclient"
)

type failingWriter struct {
	err error
}

func (w failingWriter) Write(b []byte) (int, error) {
	return 0, w.err
}

func TestClient_Fetch(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect("T1 FETCH 1 (UID FLAGS BODY.PEEK[HEADER] BODY.PEEK[TEXT])"); err != nil {
			return err
		}
		return server.write(
			"* 1 FETCH (UID 7 FLAGS (\\Seen) BODY[HEADER] {11}\r\nSubject: a\n BODY[TEXT] {5}\r\nhello)",
			"T1 OK FETCH completed",
		)
	})

	type seenItem struct {
		seqNum uint32
		uid    imap.UID
		flags  []imap.Flag
		name   string
		size   int64
	}
	var (
		seen []seenItem
		text bytes.Buffer
	)
	handler := func(ctx *imapclient.FetchStreamContext) {
		resp, item := ctx.Response(), ctx.Item()
		seen = append(seen, seenItem{resp.SeqNum(), resp.UID(), resp.Flags(), item.Name(), item.Size()})
		if item.Name() == "BODY[TEXT]" {
			ctx.Sink = &text
		}
	}

	streamErrs, err := client.Fetch(imap.SeqSetNum(1), []string{"UID", "FLAGS", "BODY.PEEK[HEADER]", "BODY.PEEK[TEXT]"}, handler).Wait()
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	assert.Empty(t, streamErrs)

	assert.Equal(t, []seenItem{
		{1, 7, []imap.Flag{imap.FlagSeen}, "BODY[HEADER]", 11},
		{1, 7, []imap.Flag{imap.FlagSeen}, "BODY[TEXT]", 5},
	}, seen)
	assert.Equal(t, "hello", text.String())
}

func TestClient_Fetch_binary(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect("T1 FETCH 1 (BINARY.PEEK[1] BINARY.SIZE[1])"); err != nil {
			return err
		}
		if err := server.write(
			"* 1 FETCH (BINARY[1] ~{5}\r\nh\x00llo BINARY.SIZE[1] 5)",
			"* 2 FETCH (BINARY[1] ~{3}\r\n\x00\x01\x02)",
			"T1 OK FETCH completed",
		); err != nil {
			return err
		}
		if err := server.expect("T2 NOOP"); err != nil {
			return err
		}
		return server.write("T2 OK NOOP completed")
	})

	var (
		sizes []int64
		buf   bytes.Buffer
	)
	handler := func(ctx *imapclient.FetchStreamContext) {
		sizes = append(sizes, ctx.Item().Size())
		if ctx.Response().SeqNum() == 1 {
			assert.Equal(t, "BINARY[1]", ctx.Item().Name())
			ctx.Sink = &buf
		}
	}

	streamErrs, err := client.Fetch(imap.SeqSetNum(1), []string{"BINARY.PEEK[1]", "BINARY.SIZE[1]"}, handler).Wait()
	require.NoError(t, err)
	assert.Empty(t, streamErrs)
	assert.Equal(t, "h\x00llo", buf.String())
	assert.Equal(t, []int64{5, 3}, sizes)

	// The session survived
	require.NoError(t, client.Noop().Wait())
	require.NoError(t, g.Wait())
}

func TestClient_Fetch_sinkFailure(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect("T1 UID FETCH 42:43 (UID BODY.PEEK[])"); err != nil {
			return err
		}
		return server.write(
			"* 1 FETCH (UID 42 BODY[] {5}\r\nhello)",
			"* 2 FETCH (UID 43 BODY[] {5}\r\nworld)",
			"T1 OK UID FETCH completed",
		)
	})

	diskFull := errors.New("disk full")
	var second bytes.Buffer
	handler := func(ctx *imapclient.FetchStreamContext) {
		switch ctx.Response().UID() {
		case 42:
			ctx.Sink = failingWriter{diskFull}
		case 43:
			ctx.Sink = &second
		}
	}

	streamErrs, err := client.UIDFetch(imap.UIDSetNum(42, 43), []string{"BODY.PEEK[]"}, handler).Wait()
	require.NoError(t, err)
	require.NoError(t, g.Wait())

	require.Len(t, streamErrs, 1)
	assert.Equal(t, uint32(1), streamErrs[0].SeqNum)
	assert.Equal(t, "BODY[]", streamErrs[0].Item)
	assert.ErrorIs(t, streamErrs[0], diskFull)

	// The failing item was drained, the next one is intact
	assert.Equal(t, "world", second.String())
}

func TestClient_Fetch_quotedAndNested(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect("T1 FETCH 3 (ENVELOPE RFC822.SIZE BODY.PEEK[HEADER.FIELDS (SUBJECT)]<0>)"); err != nil {
			return err
		}
		return server.write(
			`* 3 FETCH (ENVELOPE ("Mon, 7 Feb 1994" {2}`+"\r\n"+`hi NIL NIL NIL NIL NIL NIL NIL NIL) RFC822.SIZE 4286 BODY[HEADER.FIELDS (SUBJECT)]<0> "Subject: hi" INTERNALDATE NIL)`,
			"T1 OK FETCH completed",
		)
	})

	var (
		names []string
		buf   bytes.Buffer
	)
	handler := func(ctx *imapclient.FetchStreamContext) {
		names = append(names, ctx.Item().Name())
		ctx.Sink = &buf
	}

	_, err := client.Fetch(imap.SeqSetNum(3), []string{"ENVELOPE", "RFC822.SIZE", "BODY.PEEK[HEADER.FIELDS (SUBJECT)]<0>"}, handler).Wait()
	require.NoError(t, err)
	require.NoError(t, g.Wait())

	assert.Equal(t, []string{"BODY[HEADER.FIELDS (SUBJECT)]<0>"}, names)
	assert.Equal(t, "Subject: hi", buf.String())
}

func TestClient_Fetch_unsolicited(t *testing.T) {
	client, server := newTestClient(t, nil)

	var g errgroup.Group
	g.Go(func() error {
		if err := server.write("* PREAUTH Logged in"); err != nil {
			return err
		}
		if err := server.expect("T1 NOOP"); err != nil {
			return err
		}
		if err := server.write("* 1 FETCH (BODY[] {3}\r\nabc FLAGS (\\Seen))", "T1 OK NOOP completed"); err != nil {
			return err
		}
		if err := server.expect("T2 NOOP"); err != nil {
			return err
		}
		return server.write("T2 OK NOOP completed")
	})

	require.NoError(t, client.Noop().Wait())
	// The stream is still framed correctly
	require.NoError(t, client.Noop().Wait())
	require.NoError(t, g.Wait())
}

func TestClient_Fetch_invalid(t *testing.T) {
	client, _ := newTestClient(t, nil)

	_, err := client.Fetch(nil, []string{"UID"}, nil).Wait()
	assert.ErrorIs(t, err, imap.ErrInvalidArgument)

	var all imap.SeqSet
	all.AddRange(1, 0)
	_, err = client.Fetch(all, nil, nil).Wait()
	assert.ErrorIs(t, err, imap.ErrInvalidArgument)

	_, err = client.Fetch(all, []string{"UID\r\nT2 LOGOUT"}, nil).Wait()
	assert.ErrorIs(t, err, imap.ErrInvalidArgument)
}
