package auth

import (
	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

// ErrInsufficientRole is returned by Check when the caller holds none of the required roles.
var ErrInsufficientRole = apperrors.New(apperrors.ErrForbidden, "forbidden", "Insufficient permissions")

// Check authorizes a caller against a route's required roles. An empty
// required set means the route is open to any authenticated caller.
func Check(required, caller []models.Role) error {
	if len(required) == 0 {
		return nil
	}
	for _, want := range required {
		for _, have := range caller {
			if want == have {
				return nil
			}
		}
	}
	return ErrInsufficientRole
}
