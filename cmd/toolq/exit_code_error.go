package main

// ExitCodeError wraps an error with a specific process exit code.
//
// Most commands return plain errors and exit with code 1. This exists for
// scripted runs that need to tell execution failures apart from usage
// errors (e.g. toolq apply -y in CI).
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
