package errors

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrTooMany           = errors.New("too many requests")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrEmbeddingFailed   = errors.New("embedding failed")
	ErrInvalidQuestion   = errors.New("invalid question")
	ErrNoDocument        = errors.New("no document")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrTimeout           = errors.New("timeout")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalid           = errors.New("invalid")
	ErrInternal          = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
