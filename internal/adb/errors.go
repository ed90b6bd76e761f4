package adb

import "errors"

// Sentinel errors returned by Client. Callers branch on these with
// errors.Is instead of parsing message text.
var (
	// ErrNotInstalled means the adb binary is not in PATH.
	ErrNotInstalled = errors.New("adb not installed")

	// ErrTimeout means a command did not finish within its deadline.
	ErrTimeout = errors.New("adb command timed out")

	// ErrCommandFailed means adb exited nonzero or produced output
	// indicating failure.
	ErrCommandFailed = errors.New("adb command failed")
)
