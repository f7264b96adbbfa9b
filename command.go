package imap

import (
	"fmt"
	"strings"
)

// CommandPart is one fragment of an outgoing command.
//
// A CommandPart is either a Constant, written to the wire verbatim, or a
// LiteralString, written as a quoted string or as a literal depending on its
// contents.
type CommandPart interface {
	commandPart()
	// Value returns the text carried by the part.
	Value() string
}

var (
	_ CommandPart = Constant{}
	_ CommandPart = LiteralString{}
)

// Constant is a command part written to the wire unchanged, e.g. a command
// name, an atom or a sequence set.
//
// The zero Constant is invalid, use NewConstant or MustConstant.
type Constant struct {
	text string
}

// NewConstant creates a constant command part.
//
// The text must be non-empty and must not contain CR or LF.
func NewConstant(text string) (Constant, error) {
	if text == "" {
		return Constant{}, fmt.Errorf("%w: empty constant", ErrInvalidArgument)
	}
	if strings.ContainsAny(text, "\r\n") {
		return Constant{}, fmt.Errorf("%w: constant %q contains a line break", ErrInvalidArgument, text)
	}
	return Constant{text: text}, nil
}

// MustConstant is like NewConstant but panics on error.
func MustConstant(text string) Constant {
	c, err := NewConstant(text)
	if err != nil {
		panic(err)
	}
	return c
}

func (Constant) commandPart() {}

// Value implements CommandPart.
func (c Constant) Value() string {
	return c.text
}

// Valid returns true if the constant was created with NewConstant.
func (c Constant) Valid() bool {
	return c.text != ""
}

// LiteralString is a command part carrying an arbitrary string argument. It
// is encoded as a quoted string when possible, and as a literal otherwise.
//
// The empty string is a valid value.
type LiteralString struct {
	value string
}

// NewLiteralString creates a string command part.
func NewLiteralString(value string) LiteralString {
	return LiteralString{value: value}
}

func (LiteralString) commandPart() {}

// Value implements CommandPart.
func (s LiteralString) Value() string {
	return s.value
}

// Command is an ordered list of command parts forming one client request,
// without the tag.
//
// Use NewCommand to build a command from parts which may be invalid.
type Command []CommandPart

// NewCommand creates a command. It fails if there are no parts, or if a part
// is nil or a zero Constant.
func NewCommand(parts ...CommandPart) (Command, error) {
	cmd := Command(parts)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate checks that the command isn't empty and that all of its parts are
// defined.
func (cmd Command) Validate() error {
	if len(cmd) == 0 {
		return fmt.Errorf("%w: empty command", ErrInvalidArgument)
	}
	for i, part := range cmd {
		switch part := part.(type) {
		case Constant:
			if !part.Valid() {
				return fmt.Errorf("%w: command part %v is an undefined constant", ErrInvalidArgument, i)
			}
		case LiteralString:
			// any value
		default:
			return fmt.Errorf("%w: command part %v is undefined", ErrInvalidArgument, i)
		}
	}
	return nil
}

// Name returns the command name, ie. the value of the first part.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return strings.ToUpper(cmd[0].Value())
}
