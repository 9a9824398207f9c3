// Package mcp exposes the retrieval engine over the Model Context
// Protocol so AI clients can query knowledge bases and manage them.
package mcp

import (
	"fmt"

	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Custom MCP error codes for ragkb.
const (
	// ErrCodeDisabled indicates retrieval is switched off.
	ErrCodeDisabled = -32001

	// ErrCodeNoActiveKB indicates single mode has no active knowledge base.
	ErrCodeNoActiveKB = -32002

	// ErrCodeNoKBLoaded indicates multi mode found no knowledge bases.
	ErrCodeNoKBLoaded = -32003

	// ErrCodeNoRelevantContent indicates nothing met the relevance threshold.
	ErrCodeNoRelevantContent = -32004

	// ErrCodeKBNotFound indicates an unknown knowledge base name.
	ErrCodeKBNotFound = -32005

	// ErrCodeKBExists indicates a knowledge base name collision.
	ErrCodeKBExists = -32006

	// ErrCodeEmbeddingFailed indicates the embedding provider is unavailable.
	ErrCodeEmbeddingFailed = -32007

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// Error is an MCP protocol error with a JSON-RPC code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError creates an invalid-params protocol error.
func NewInvalidParamsError(message string) *Error {
	return &Error{Code: ErrCodeInvalidParams, Message: message}
}

// MapError translates an engine error into the MCP protocol error the
// client sees. Engine error codes are stable, so the mapping is a plain
// table.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	code := ErrCodeInternalError
	switch rkerrors.GetCode(err) {
	case rkerrors.ErrCodeInvalidArgument:
		code = ErrCodeInvalidParams
	case rkerrors.ErrCodeDisabled:
		code = ErrCodeDisabled
	case rkerrors.ErrCodeNoActiveKB:
		code = ErrCodeNoActiveKB
	case rkerrors.ErrCodeNoKBLoaded:
		code = ErrCodeNoKBLoaded
	case rkerrors.ErrCodeNoRelevantContent:
		code = ErrCodeNoRelevantContent
	case rkerrors.ErrCodeNotFound:
		code = ErrCodeKBNotFound
	case rkerrors.ErrCodeAlreadyExists:
		code = ErrCodeKBExists
	case rkerrors.ErrCodeEmbeddingFailed, rkerrors.ErrCodeEmbedderTimeout, rkerrors.ErrCodeDimensionMismatch:
		code = ErrCodeEmbeddingFailed
	}

	return &Error{Code: code, Message: err.Error()}
}
