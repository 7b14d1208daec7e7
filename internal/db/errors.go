package db

import (
	"errors"
	"fmt"

	"github.com/roach88/relgraph/internal/ir"
)

// ErrorCode categorizes errors surfaced by the database and its extensions.
type ErrorCode string

const (
	// ErrCodeStoreIO indicates the record store could not complete a read,
	// write, or delete. Fatal to the enclosing transaction.
	ErrCodeStoreIO ErrorCode = "STORE_IO_FAILURE"

	// ErrCodeInvalidEdgeReference indicates an edge was rejected at add time.
	// Local to the caller; the transaction stays usable.
	ErrCodeInvalidEdgeReference ErrorCode = "INVALID_EDGE_REFERENCE"

	// ErrCodeMissingExtension indicates a lookup for an extension that was
	// never registered, or was registered with a different capability.
	ErrCodeMissingExtension ErrorCode = "MISSING_EXTENSION"

	// ErrCodeInvalidNode indicates a record write with a malformed node.
	ErrCodeInvalidNode ErrorCode = "INVALID_NODE"

	// ErrCodeReadOnly indicates a write attempted on a read transaction.
	ErrCodeReadOnly ErrorCode = "READ_ONLY"

	// ErrCodeTxClosed indicates use of a committed or rolled back transaction.
	ErrCodeTxClosed ErrorCode = "TX_CLOSED"

	// ErrCodeDuplicateExtension indicates two extensions registered under
	// the same name.
	ErrCodeDuplicateExtension ErrorCode = "DUPLICATE_EXTENSION"
)

// Error is the structured error type for the db and graph layers.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the failing operation (e.g. "set", "commit", "add edge").
	Op string

	// Message is a human-readable description.
	Message string

	// Node identifies the affected record, if any.
	Node ir.Node

	// EdgeID identifies the affected edge, if any.
	EdgeID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Op)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if !e.Node.IsZero() {
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.EdgeID != "" {
		msg += fmt.Sprintf(" (edge=%s)", e.EdgeID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HasCode reports whether err wraps an *Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsStoreIOFailure reports whether err is a record store failure.
func IsStoreIOFailure(err error) bool { return HasCode(err, ErrCodeStoreIO) }

// IsInvalidEdgeReference reports whether err rejected an edge at add time.
func IsInvalidEdgeReference(err error) bool { return HasCode(err, ErrCodeInvalidEdgeReference) }

// IsMissingExtension reports whether err is an extension lookup failure.
func IsMissingExtension(err error) bool { return HasCode(err, ErrCodeMissingExtension) }

// NewStoreIOError wraps a backend failure.
func NewStoreIOError(op string, n ir.Node, err error) *Error {
	return &Error{Code: ErrCodeStoreIO, Op: op, Node: n, Err: err}
}

// NewEdgeStoreIOError wraps a backend failure on one edge.
func NewEdgeStoreIOError(op, edgeID string, err error) *Error {
	return &Error{Code: ErrCodeStoreIO, Op: op, EdgeID: edgeID, Err: err}
}

// NewInvalidEdgeError rejects an edge.
func NewInvalidEdgeError(e ir.Edge, err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidEdgeReference,
		Op:      "add edge",
		Message: e.String(),
		Err:     err,
	}
}

// NewMissingExtensionError reports a failed extension lookup.
func NewMissingExtensionError(name, reason string) *Error {
	return &Error{
		Code:    ErrCodeMissingExtension,
		Op:      "extension",
		Message: fmt.Sprintf("%q %s", name, reason),
	}
}
