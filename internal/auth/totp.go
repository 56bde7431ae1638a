// Package auth implements the pieces of the HTTP admission layer (component
// H) that are specific to authentication: TOTP secret issuance/verification
// for the optional MFA step, and the first-admin atomic elevation spec.md
// §4.2/§9 calls for.
//
// Grounded on internal/routes/setup.go's "only one installer superuser"
// pattern, re-pointed at the users collection's is_admin field instead of
// PocketBase's own _superusers collection (see DESIGN.md's data-model note).
package auth

import (
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Issuer names the TOTP provider shown in authenticator apps.
const Issuer = "sshgateway"

// GenerateTOTPSecret creates a new base32 TOTP secret for accountName. The
// caller persists the returned secret on the principal's mfaSecret field
// only after the user has verified a code against it once.
func GenerateTOTPSecret(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return key, nil
}

// VerifyTOTPCode checks a 6-digit code against secret using the current
// time window (and one window of clock skew on either side, the default
// totp.Validate behavior).
func VerifyTOTPCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	return totp.Validate(code, secret)
}
