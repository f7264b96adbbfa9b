package imap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned when a value is constructed from
	// missing or empty required fields.
	ErrInvalidArgument = errors.New("imap: invalid argument")
	// ErrMalformedResponse is returned when a server line doesn't fit the
	// expected grammar. It indicates a server or transport bug rather than a
	// negative answer.
	ErrMalformedResponse = errors.New("imap: malformed response")
)

// StatusResponseType is a generic status response type.
type StatusResponseType string

const (
	StatusResponseTypeOK           StatusResponseType = "OK"
	StatusResponseTypeNo           StatusResponseType = "NO"
	StatusResponseTypeBad          StatusResponseType = "BAD"
	StatusResponseTypePreAuth      StatusResponseType = "PREAUTH"
	StatusResponseTypeBye          StatusResponseType = "BYE"
	StatusResponseTypeContinuation StatusResponseType = "+"
)

func (t StatusResponseType) known() bool {
	switch t {
	case StatusResponseTypeOK, StatusResponseTypeNo, StatusResponseTypeBad, StatusResponseTypePreAuth, StatusResponseTypeBye, StatusResponseTypeContinuation:
		return true
	}
	return false
}

// Failed returns true if the status denotes a failed command.
func (t StatusResponseType) Failed() bool {
	return t == StatusResponseTypeNo || t == StatusResponseTypeBad
}

// ResponseCode is a response code.
type ResponseCode string

const (
	ResponseCodeAlert          ResponseCode = "ALERT"
	ResponseCodeBadCharset     ResponseCode = "BADCHARSET"
	ResponseCodeCapability     ResponseCode = "CAPABILITY"
	ResponseCodeParse          ResponseCode = "PARSE"
	ResponseCodePermanentFlags ResponseCode = "PERMANENTFLAGS"
	ResponseCodeReadOnly       ResponseCode = "READ-ONLY"
	ResponseCodeReadWrite      ResponseCode = "READ-WRITE"
	ResponseCodeTryCreate      ResponseCode = "TRYCREATE"
	ResponseCodeUIDNext        ResponseCode = "UIDNEXT"
	ResponseCodeUIDValidity    ResponseCode = "UIDVALIDITY"
	ResponseCodeUnseen         ResponseCode = "UNSEEN"
)

// StatusResponse is a generic status response.
//
// Type and Text are always non-empty for values built by this package. Code
// is optional.
//
// See RFC 3501 section 7.1.
type StatusResponse struct {
	Type StatusResponseType
	Code ResponseCode
	Text string
}

// NewStatusResponse validates and copies a status response.
func NewStatusResponse(resp *StatusResponse) (*StatusResponse, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil status response", ErrInvalidArgument)
	}
	return NewStatusResponseFromPair(string(resp.Type), resp.Text, resp.Code)
}

// NewStatusResponseFromPair creates a status response from a status code and
// a human-readable text. An optional response code may be supplied.
func NewStatusResponseFromPair(code, text string, respCode ...ResponseCode) (*StatusResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty status code", ErrInvalidArgument)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty status text", ErrInvalidArgument)
	}
	resp := &StatusResponse{Type: StatusResponseType(code), Text: text}
	if len(respCode) > 0 {
		resp.Code = respCode[0]
	}
	return resp, nil
}

// ParseStatusResponse parses a raw status line of the form "<code> SP <text>",
// without the tag. A trailing CRLF is ignored. The text may start with a
// bracketed response code.
func ParseStatusResponse(line string) (*StatusResponse, error) {
	line = strings.TrimSuffix(line, "\r\n")

	code, text, ok := strings.Cut(line, " ")
	if !ok || code == "" {
		return nil, fmt.Errorf("%w: missing status separator in %q", ErrMalformedResponse, line)
	}
	typ := StatusResponseType(strings.ToUpper(code))
	if !typ.known() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, code)
	}

	var respCode ResponseCode
	if strings.HasPrefix(text, "[") {
		i := strings.IndexByte(text, ']')
		if i < 0 {
			return nil, fmt.Errorf("%w: unterminated response code in %q", ErrMalformedResponse, line)
		}
		name, _, _ := strings.Cut(text[1:i], " ")
		if name == "" {
			return nil, fmt.Errorf("%w: empty response code in %q", ErrMalformedResponse, line)
		}
		respCode = ResponseCode(strings.ToUpper(name))
		text = strings.TrimPrefix(text[i+1:], " ")
	}
	if text == "" {
		return nil, fmt.Errorf("%w: missing status text in %q", ErrMalformedResponse, line)
	}

	return &StatusResponse{Type: typ, Code: respCode, Text: text}, nil
}

// Err returns an *Error if the status response denotes a failure, nil
// otherwise.
func (resp *StatusResponse) Err() error {
	if !resp.Type.Failed() {
		return nil
	}
	return (*Error)(resp)
}

// String returns the status line, without the tag.
func (resp *StatusResponse) String() string {
	if resp.Code != "" {
		return fmt.Sprintf("%v [%v] %v", resp.Type, resp.Code, resp.Text)
	}
	return fmt.Sprintf("%v %v", resp.Type, resp.Text)
}

// Error is an IMAP error caused by a negative status response.
type Error StatusResponse

var _ error = (*Error)(nil)

// ErrorFromResponse creates an error from a status response.
func ErrorFromResponse(resp *StatusResponse) (*Error, error) {
	resp, err := NewStatusResponse(resp)
	if err != nil {
		return nil, err
	}
	return (*Error)(resp), nil
}

// ParseError creates an error from a raw status line, see
// ParseStatusResponse.
func ParseError(line string) (*Error, error) {
	resp, err := ParseStatusResponse(line)
	if err != nil {
		return nil, err
	}
	return (*Error)(resp), nil
}

// NewError creates an error from a status code and text. Both must be
// non-empty.
func NewError(code, text string) (*Error, error) {
	resp, err := NewStatusResponseFromPair(code, text)
	if err != nil {
		return nil, err
	}
	return (*Error)(resp), nil
}

// Error implements the error interface.
func (err *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "imap: %v", err.Type)
	if err.Code != "" {
		fmt.Fprintf(&sb, " [%v]", err.Code)
	}
	text := err.Text
	if text == "" {
		text = "<unknown>"
	}
	fmt.Fprintf(&sb, " %v", text)
	return sb.String()
}

// StatusCode returns the status code, e.g. NO or BAD.
func (err *Error) StatusCode() StatusResponseType {
	return err.Type
}

// StatusText returns the human-readable text sent by the server.
func (err *Error) StatusText() string {
	return err.Text
}

// Response returns the status response carried by the error.
func (err *Error) Response() *StatusResponse {
	return (*StatusResponse)(err)
}
