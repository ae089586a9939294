package ingest

import (
	"context"
	"errors"

	"datasets/internal/datasource"
	"datasets/internal/datasource/httpds"
	csvparser "datasets/internal/parser/csv"
	"datasets/internal/storage"
	"datasets/internal/transformer"
)

// ErrImportDisabled is returned by Import when the service has no fetcher.
var ErrImportDisabled = errors.New("ingest: url import is not configured")

// Error kinds reported by Kind. They appear in logs, metric labels, and the
// HTTP error body.
const (
	KindMalformedInput   = "MalformedInput"
	KindNotFound         = "NotFound"
	KindUnknownColumn    = "UnknownColumn"
	KindDuplicateColumn  = "DuplicateColumn"
	KindInvalidOperation = "InvalidOperation"
	KindInvalidArgument  = "InvalidArgument"
	KindConflict         = "Conflict"
	KindTooLarge         = "TooLarge"
	KindUpstream         = "UpstreamError"
	KindStorage          = "StorageError"
	KindCanceled         = "Canceled"
	KindInternal         = "Internal"
)

// Kind maps err to one of the Kind* constants. A nil error maps to "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var se *storage.Error
	switch {
	case errors.Is(err, csvparser.ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, transformer.ErrUnknownColumn):
		return KindUnknownColumn
	case errors.Is(err, transformer.ErrDuplicateColumn):
		return KindDuplicateColumn
	case errors.Is(err, transformer.ErrInvalidOperation):
		return KindInvalidOperation
	case errors.Is(err, storage.ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, storage.ErrConflict):
		return KindConflict
	case errors.Is(err, datasource.ErrTooLarge):
		return KindTooLarge
	case errors.Is(err, httpds.ErrStatus), errors.Is(err, ErrImportDisabled):
		return KindUpstream
	case errors.As(err, &se), errors.Is(err, storage.ErrInconsistent):
		return KindStorage
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindStorage
	default:
		return KindInternal
	}
}
