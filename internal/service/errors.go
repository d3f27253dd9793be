package service

import (
	"context"
	"errors"

	"github.com/faucetdb/accessd/internal/kvs"
	"github.com/faucetdb/accessd/internal/metrics"
	"github.com/faucetdb/accessd/internal/model"
)

// publicErrors are returned across the boundary unchanged.
var publicErrors = []error{
	model.ErrInvalidAuth,
	model.ErrAccessNotFound,
	model.ErrAccessMethodMismatch,
	model.ErrAccessGrantBearerInvalid,
	model.ErrAccessBearerMissingKey,
	model.ErrSubjectNotFound,
}

// boundary reduces err to a public error kind. Thrown errors, conflicts
// and context errors pass; anything else is logged and becomes ErrFatal.
func (s *AuthService) boundary(op string, err error) error {
	if err == nil {
		return nil
	}
	var thrown *model.ThrownError
	switch {
	case errors.As(err, &thrown):
		return thrown
	case errors.Is(err, kvs.ErrConflict):
		return kvs.ErrConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, model.ErrFatal):
		s.logger.Error("authentication failed", "op", op, "error", err)
		return model.ErrFatal
	}
	for _, pub := range publicErrors {
		if errors.Is(err, pub) {
			return pub
		}
	}
	s.logger.Error("unexpected authentication error", "op", op, "error", err)
	return model.ErrFatal
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case model.IsThrown(err):
		return metrics.OutcomeThrown
	case errors.Is(err, model.ErrFatal), errors.Is(err, kvs.ErrConflict):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeInvalid
	}
}
