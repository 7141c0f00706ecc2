package sync

import "fmt"

// PathError means a configured path does not exist or has the wrong type.
// The affected subsystem is skipped with a warning.
type PathError struct {
	Subsystem string
	Path      string
	Reason    string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Subsystem, e.Path, e.Reason)
}

// IOError is a failed local file operation
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
