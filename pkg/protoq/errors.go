package protoq

import perrors "github.com/arkilian/protoq/internal/errors"

// Sentinels for errors.Is.
var (
	ErrSchemaMismatch        = perrors.ErrSchemaMismatch
	ErrUnsupportedProjection = perrors.ErrUnsupportedProjection
	ErrUnknownField          = perrors.ErrUnknownField
	ErrTypeMismatch          = perrors.ErrTypeMismatch
	ErrInvalidRestriction    = perrors.ErrInvalidRestriction
	ErrStreamDecode          = perrors.ErrStreamDecode
	ErrEmptySequence         = perrors.ErrEmptySequence
	ErrElementNotFound       = perrors.ErrElementNotFound
	ErrEvaluationFailed      = perrors.ErrEvaluationFailed
)
