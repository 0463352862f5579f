// Package reply holds the tagged reply a Redis-style backend returns for one
// command and the rules that turn it into the result types of the uniform
// keystore operations.
//
// A Reply only lives for the decoding of a single command; anything that must
// outlive it (string payloads) is copied into the caller's workspace.
package reply

import (
	"strconv"

	"github.com/oriys/keystore/internal/workspace"
)

// OKMarker is the status text a backend uses to acknowledge a write.
const OKMarker = "OK"

// Kind is the reply discriminant.
type Kind int

const (
	Nil Kind = iota
	Integer
	Status
	String
	Error
	Other // anything the decoder does not understand, e.g. arrays
)

func (k Kind) String() string {
	switch k {
	case Nil:
		return "nil"
	case Integer:
		return "integer"
	case Status:
		return "status"
	case String:
		return "string"
	case Error:
		return "error"
	default:
		return "other"
	}
}

// Reply is one decoded backend reply.
type Reply struct {
	Kind Kind
	// Int is set for Integer replies.
	Int int64
	// Text is set for Status and Error replies.
	Text string
	// Bytes is set for String replies.
	Bytes []byte
}

// ServerError is the Error reply surfaced as a Go error.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Err returns a *ServerError for Error replies and nil otherwise.
func (r Reply) Err() error {
	if r.Kind == Error {
		return &ServerError{Message: r.Text}
	}
	return nil
}

// OK reports whether r is a Status reply carrying the success marker. Any other
// status text is false, not an error.
func (r Reply) OK() bool {
	return r.Kind == Status && r.Text == OKMarker
}

// Number is the numeric view: Nil is 0, Integer is its value, Status is 1 for
// the success marker and 0 otherwise. Everything else is 0.
func (r Reply) Number() int64 {
	switch r.Kind {
	case Integer:
		return r.Int
	case Status:
		if r.OK() {
			return 1
		}
	}
	return 0
}

// Changed reads an Integer reply as an affected-key count for single-key
// commands (SETNX, DEL, EXPIRE): 1 changed, anything else unchanged.
func (r Reply) Changed() bool {
	return r.Kind == Integer && r.Int == 1
}

// Present reports whether an Integer count reply is positive (EXISTS).
func (r Reply) Present() bool {
	return r.Kind == Integer && r.Int > 0
}

// Copy moves a String payload into scope. Every other kind is absent.
func (r Reply) Copy(scope workspace.Scope) ([]byte, bool, error) {
	if r.Kind != String {
		return nil, false, nil
	}
	b, err := scope.Copy(r.Bytes)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Render is the textual view used for passthrough commands: String and Status
// payloads verbatim, Integer as decimal text, Nil and unknown kinds absent,
// and Error as its *ServerError.
func (r Reply) Render(scope workspace.Scope) ([]byte, bool, error) {
	var payload []byte
	switch r.Kind {
	case String:
		payload = r.Bytes
	case Status:
		payload = []byte(r.Text)
	case Integer:
		payload = strconv.AppendInt(nil, r.Int, 10)
	case Error:
		return nil, false, r.Err()
	default:
		return nil, false, nil
	}
	b, err := scope.Copy(payload)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
