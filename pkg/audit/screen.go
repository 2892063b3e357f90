package audit

import (
	"context"
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
)

// Finding is a libinjection match in submitted text.
type Finding struct {
	Kind        string // sqli or xss
	Fingerprint string
}

// ScreenText checks free text for SQL injection and XSS patterns.
// Returns nil when the text is clean.
func ScreenText(value string) *Finding {
	if value == "" {
		return nil
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return &Finding{Kind: "sqli", Fingerprint: string(fingerprint)}
	}
	if libinjection.IsXSS(value) {
		return &Finding{Kind: "xss"}
	}
	return nil
}

// Screen checks each named field, logs the first hit, and rejects it with
// apperrors.ErrSuspiciousInput. Empty values are skipped.
func (a *SecurityAuditor) Screen(ctx context.Context, fields map[string]string) error {
	for name, value := range fields {
		finding := ScreenText(value)
		if finding == nil {
			continue
		}
		a.LogInjectionAttempt(ctx, InjectionDetails{
			Field:       name,
			Kind:        finding.Kind,
			Fingerprint: finding.Fingerprint,
			Sample:      value,
		})
		return fmt.Errorf("%w: field %s", apperrors.ErrSuspiciousInput, name)
	}
	return nil
}
