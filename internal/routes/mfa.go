package routes

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	gwauth "github.com/relayforge/sshgateway/internal/auth"
	"github.com/relayforge/sshgateway/internal/tokens"
)

// registerMfaRoutes covers the enroll/confirm half of spec.md §3's "mutated
// by ... MFA changes": POST /login with isMfaVerification=true (in auth.go)
// is the verify step; /enroll and /confirm are how a principal first obtains
// and activates an mfaSecret, and DELETE turns MFA off. Bearer-protected via requireBearer since
// enrolling MFA is an authenticated account action, not a login step.
func registerMfaRoutes(se *core.ServeEvent, tokenCache *tokens.Cache) {
	g := se.Router.Group("/api/gw/users/mfa")
	g.Bind(requireBearer(tokenCache))

	g.POST("/enroll", func(e *core.RequestEvent) error {
		record, err := e.App.FindRecordById("users", principalID(e))
		if err != nil {
			return e.NotFoundError("principal not found", err)
		}

		key, err := gwauth.GenerateTOTPSecret(record.GetString("username"))
		if err != nil {
			return e.InternalServerError("failed to generate TOTP secret", err)
		}

		// Not persisted yet: mfa_secret is only written once /confirm proves
		// the user's authenticator app actually holds it.
		return e.JSON(http.StatusOK, map[string]any{
			"success": true,
			"secret":  key.Secret(),
			"otpUrl":  key.URL(),
		})
	})

	g.POST("/confirm", func(e *core.RequestEvent) error {
		var body struct {
			Secret string `json:"secret"`
			Code   string `json:"code"`
		}
		if err := e.BindBody(&body); err != nil {
			return e.BadRequestError("invalid request body", err)
		}
		if !gwauth.VerifyTOTPCode(body.Secret, body.Code) {
			return e.JSON(http.StatusUnauthorized, errResponse("MFA_INVALID", "invalid MFA code"))
		}

		record, err := e.App.FindRecordById("users", principalID(e))
		if err != nil {
			return e.NotFoundError("principal not found", err)
		}
		record.Set("mfa_enabled", true)
		record.Set("mfa_secret", body.Secret)
		if err := e.App.Save(record); err != nil {
			return e.InternalServerError("failed to enable MFA", err)
		}

		return e.JSON(http.StatusOK, map[string]any{"success": true, "message": "MFA enabled"})
	})

	g.DELETE("", func(e *core.RequestEvent) error {
		var body struct {
			Code string `json:"code"`
		}
		if err := e.BindBody(&body); err != nil {
			return e.BadRequestError("invalid request body", err)
		}

		record, err := e.App.FindRecordById("users", principalID(e))
		if err != nil {
			return e.NotFoundError("principal not found", err)
		}
		if !gwauth.VerifyTOTPCode(record.GetString("mfa_secret"), body.Code) {
			return e.JSON(http.StatusUnauthorized, errResponse("MFA_INVALID", "invalid MFA code"))
		}

		record.Set("mfa_enabled", false)
		record.Set("mfa_secret", "")
		if err := e.App.Save(record); err != nil {
			return e.InternalServerError("failed to disable MFA", err)
		}
		return e.JSON(http.StatusOK, map[string]any{"success": true, "message": "MFA disabled"})
	})
}
