package imapclient_test

import (
	"bytes"
	"log"

	"github.com/emersion/go-sasl"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/imapclient"
)

func ExampleClient() {
	c, err := imapclient.DialTLS("mail.example.org:993", nil)
	if err != nil {
		log.Fatalf("failed to dial IMAP server: %v", err)
	}
	defer c.Close()

	if err := c.WaitGreeting(); err != nil {
		log.Fatalf("server rejected connection: %v", err)
	}
	if err := c.Login("root", "asdf").Wait(); err != nil {
		log.Fatalf("failed to login: %v", err)
	}

	mbox, err := c.Select("INBOX", nil).Wait()
	if err != nil {
		log.Fatalf("failed to select INBOX: %v", err)
	}
	log.Printf("INBOX contains %v messages", mbox.NumMessages())

	if mbox.NumMessages() > 0 {
		var header bytes.Buffer
		handler := func(ctx *imapclient.FetchStreamContext) {
			ctx.Sink = &header
		}
		if _, err := c.Fetch(imap.SeqSetNum(1), []string{"BODY.PEEK[HEADER]"}, handler).Wait(); err != nil {
			log.Fatalf("failed to fetch first message in INBOX: %v", err)
		}
		log.Printf("header of first message in INBOX:\n%v", header.String())
	}

	if err := c.Logout().Wait(); err != nil {
		log.Fatalf("failed to logout: %v", err)
	}
}

func ExampleClient_Authenticate() {
	var c *imapclient.Client

	if !c.Caps().Has(imap.Cap("AUTH=PLAIN")) {
		log.Fatal("PLAIN not supported by server")
	}

	saslClient := sasl.NewPlainClient("", "root", "asdf")
	if err := c.Authenticate(saslClient); err != nil {
		log.Fatalf("authentication failed: %v", err)
	}
}

func ExampleClient_Search() {
	var c *imapclient.Client

	data, err := c.UIDSearch(&imap.SearchCriteria{
		Header:  []imap.SearchCriteriaHeaderField{{Key: "From", Value: "alice@example.org"}},
		NotFlag: []imap.Flag{imap.FlagSeen},
	}).Wait()
	if err != nil {
		log.Fatalf("UID SEARCH failed: %v", err)
	}
	log.Printf("unread messages from Alice: %v", data.AllUIDs())
}

func ExampleClient_Execute() {
	var c *imapclient.Client

	cmd := imap.Command{
		imap.MustConstant("SUBSCRIBE"),
		imap.NewLiteralString("Archive"),
	}
	if err := c.Execute(cmd).Wait(); err != nil {
		log.Fatalf("SUBSCRIBE failed: %v", err)
	}
}
