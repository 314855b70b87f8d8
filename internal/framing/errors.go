package framing

import "fmt"

// FramingError reports a stream that does not follow the Content-Length
// framing rules. A stream that produced a FramingError cannot be resumed.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: %s: %v", e.Reason, e.Err)
	}
	return "framing: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

func framingErr(reason string, err error) *FramingError {
	return &FramingError{Reason: reason, Err: err}
}
