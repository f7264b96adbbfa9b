// Package imapwire implements the IMAP wire protocol.
//
// The IMAP wire protocol is defined in RFC 3501 section 4.
package imapwire

import (
	"errors"
	"fmt"
	"time"
)

// ErrContinuationTimeout is returned when the server didn't send a
// continuation request in time. The connection can no longer be framed
// reliably and must be closed.
var ErrContinuationTimeout = errors.New("imapwire: timed out waiting for continuation request")

// ContinuationRequest is a continuation request.
//
// The sender must call either Done or Cancel, once. The receiver must call
// Wait or WaitTimeout.
type ContinuationRequest struct {
	done chan struct{}
	err  error
	text string
}

func NewContinuationRequest() *ContinuationRequest {
	return &ContinuationRequest{done: make(chan struct{})}
}

func (cont *ContinuationRequest) Cancel(err error) {
	if err == nil {
		err = fmt.Errorf("imapwire: continuation request cancelled")
	}
	cont.err = err
	close(cont.done)
}

func (cont *ContinuationRequest) Done(text string) {
	cont.text = text
	close(cont.done)
}

func (cont *ContinuationRequest) Wait() (string, error) {
	<-cont.done
	return cont.text, cont.err
}

// WaitTimeout is like Wait, but gives up after d. A zero or negative d means
// no timeout.
func (cont *ContinuationRequest) WaitTimeout(d time.Duration) (string, error) {
	if d <= 0 {
		return cont.Wait()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-cont.done:
		return cont.text, cont.err
	case <-timer.C:
		return "", ErrContinuationTimeout
	}
}

// IsAtomChar returns true if ch is an ATOM-CHAR.
func IsAtomChar(ch byte) bool {
	switch ch {
	case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
		return false
	default:
		return !isCTL(ch) && ch <= 0x7f
	}
}

func isCTL(ch byte) bool {
	return ch < 0x20 || ch == 0x7f
}
