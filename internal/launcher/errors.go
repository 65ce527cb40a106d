// Package launcher defines the error taxonomy shared across the core runtime.
// Every surfaced failure carries a machine-readable kind alongside the usual
// wrapped cause so callers can branch on errors.As without string matching.
package launcher

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the command boundary and the UI.
type Kind string

const (
	// Configuration errors
	KindUnknownVersion Kind = "UnknownVersion"
	KindInvalidProfile Kind = "InvalidProfile"
	KindInvalidOptions Kind = "InvalidOptions"

	// Network errors
	KindDownloadFailed Kind = "DownloadFailed"
	KindHashMismatch   Kind = "HashMismatch"
	KindSizeMismatch   Kind = "SizeMismatch"
	KindTimeout        Kind = "Timeout"

	// Runtime errors
	KindJavaUnavailable        Kind = "JavaUnavailable"
	KindInsufficientDiskSpace  Kind = "InsufficientDiskSpace"
	KindNativeExtractionFailed Kind = "NativeExtractionFailed"

	// Process errors
	KindLaunchInProgress Kind = "LaunchInProgress"
	KindSpawnFailed      Kind = "SpawnFailed"
	KindLaunchTimeout    Kind = "LaunchTimeout"
	KindGameCrashed      Kind = "GameCrashed"
	KindStopFailed       Kind = "StopFailed"

	// Modpack errors
	KindMalformedArchive  Kind = "MalformedArchive"
	KindUnsupportedLoader Kind = "UnsupportedLoader"
	KindMissingDependency Kind = "MissingDependency"

	// Filesystem errors
	KindPermissionDenied Kind = "PermissionDenied"
	KindPathNotFound     Kind = "PathNotFound"
)

// Error is the structured error type carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by kind so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a structured error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
