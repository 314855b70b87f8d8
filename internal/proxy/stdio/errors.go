package stdio

import "fmt"

// ExitError is returned by Proxy.Run when the server exits on its own.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("server process exited with code: %d", e.Code)
}
