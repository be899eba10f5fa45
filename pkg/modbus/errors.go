// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package modbus

import "fmt"

// FrameErrorKind classifies response frame validation failures
type FrameErrorKind int

const (
	ShortRead FrameErrorKind = iota
	AddressMismatch
	FunctionMismatch
	LengthMismatch
	CRCMismatch
)

// String returns the kind name for logging
func (k FrameErrorKind) String() string {
	switch k {
	case ShortRead:
		return "short read"
	case AddressMismatch:
		return "address mismatch"
	case FunctionMismatch:
		return "function mismatch"
	case LengthMismatch:
		return "length mismatch"
	case CRCMismatch:
		return "CRC mismatch"
	default:
		return "unknown"
	}
}

// FrameError represents a response frame validation failure. These are
// expected transient bus conditions (noise, collisions, slow devices), not
// programmer errors; callers treat them as a dropped sample.
type FrameError struct {
	Kind    FrameErrorKind
	Message string
}

// Error implements the error interface
func (e *FrameError) Error() string {
	return e.Message
}

func frameErrorf(kind FrameErrorKind, format string, args ...interface{}) *FrameError {
	return &FrameError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsFrameError reports whether err is a FrameError of the given kind
func IsFrameError(err error, kind FrameErrorKind) bool {
	fe, ok := err.(*FrameError)
	return ok && fe.Kind == kind
}
