package imapclient

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"

	"github.com/rnwood/go-imapcore"
	"github.com/rnwood/go-imapcore/internal/imapwire"
)

// Authenticate sends an AUTHENTICATE command.
//
// Unlike other commands, this method blocks until the SASL exchange completes.
func (c *Client) Authenticate(saslClient sasl.Client) error {
	mech, initialResp, err := saslClient.Start()
	if err != nil {
		return err
	}
	mechPart, err := imap.NewConstant(mech)
	if err != nil {
		return fmt.Errorf("imapclient: invalid SASL mechanism: %w", err)
	}

	parts := imap.Command{imap.MustConstant("AUTHENTICATE"), mechPart}
	if initialResp != nil && c.Caps().Has(imap.CapSASLIR) {
		parts = append(parts, imap.MustConstant(encodeSASL(initialResp)))
		initialResp = nil
	}

	cmd := &loginCommand{}
	enc := c.beginCommand(cmd)
	defer enc.end()
	if !enc.ok() {
		return cmd.Wait()
	}

	contReq := c.registerContReq(cmd)
	if err := enc.send(parts); err != nil {
		return err
	}

	for {
		challengeStr, err := contReq.WaitTimeout(c.options.ContinuationTimeout)
		if errors.Is(err, imapwire.ErrContinuationTimeout) {
			enc.fail(err)
			return err
		} else if err != nil {
			return cmd.Wait()
		}

		var resp []byte
		if challengeStr == "" {
			if initialResp == nil {
				return c.abortSASL(enc, cmd, fmt.Errorf("imapclient: server requested SASL initial response, but we don't have one"))
			}
			resp, initialResp = initialResp, nil
		} else {
			challenge, err := decodeSASL(challengeStr)
			if err != nil {
				return c.abortSASL(enc, cmd, err)
			}
			resp, err = saslClient.Next(challenge)
			if err != nil {
				return c.abortSASL(enc, cmd, err)
			}
		}

		contReq = c.registerContReq(cmd)
		if err := enc.Text(encodeSASL(resp)).CRLF(); err != nil {
			enc.fail(err)
			return err
		}
	}
}

// abortSASL cancels the exchange and waits for the server to reject the
// command.
func (c *Client) abortSASL(enc *commandEncoder, cmd command, err error) error {
	if writeErr := enc.Text("*").CRLF(); writeErr != nil {
		enc.fail(writeErr)
		return err
	}
	cmd.base().Wait()
	return err
}

func encodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeSASL(s string) ([]byte, error) {
	if s == "=" {
		// go-sasl treats nil as no challenge/response, so return a non-nil
		// empty byte slice
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
