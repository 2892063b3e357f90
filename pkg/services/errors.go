package services

import (
	"errors"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
)

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
