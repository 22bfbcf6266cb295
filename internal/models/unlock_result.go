package models

// UnlockResult is the uniform return contract of every unlock operation.
// Err is one of the sentinel errors in error.go when Success is false.
type UnlockResult struct {
	Success bool
	Method  LockMethod
	Err     error
}

// UnlockSuccess builds a successful result for the given method.
func UnlockSuccess(method LockMethod) UnlockResult {
	return UnlockResult{Success: true, Method: method}
}

// UnlockFailure builds a failed result carrying a typed error.
func UnlockFailure(err error) UnlockResult {
	return UnlockResult{Success: false, Err: err}
}
