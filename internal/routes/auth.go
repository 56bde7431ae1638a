package routes

import (
	"net/http"
	"strings"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/relayforge/sshgateway/internal/audit"
	"github.com/relayforge/sshgateway/internal/auth"
	"github.com/relayforge/sshgateway/internal/tokens"
)

// registerAuthRoutes registers the unauthenticated register/login routes
// from spec.md §6's HTTP surface table. Grounded on
// internal/routes/setup.go's first-superuser pattern, re-pointed at
// spec.md's Principal (the users collection's is_admin field) and issuing
// this package's own internal/tokens bearer instead of a PocketBase
// auth-record token (internal/tokens exists precisely because the cache
// needs logout-all fencing PocketBase's own tokens don't expose).
func registerAuthRoutes(se *core.ServeEvent, tokenCache *tokens.Cache) {
	g := se.Router.Group("/api/gw/users")

	g.POST("/register", func(e *core.RequestEvent) error {
		var body struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := e.BindBody(&body); err != nil {
			return e.BadRequestError("invalid request body", err)
		}
		if body.Username == "" || body.Password == "" {
			return e.BadRequestError("username and password are required", nil)
		}

		collection, err := e.App.FindCollectionByNameOrId("users")
		if err != nil {
			return e.InternalServerError("users collection missing", err)
		}

		record := core.NewRecord(collection)
		record.Set("username", body.Username)
		if body.Email != "" {
			record.Set("email", body.Email)
		}
		record.Set("status", "active")
		if err := record.SetPassword(body.Password); err != nil {
			return e.BadRequestError("invalid password", err)
		}
		if err := e.App.Save(record); err != nil {
			return e.BadRequestError("registration failed", err)
		}

		if err := auth.ElevateIfFirstAdmin(e.App, record.Id); err != nil {
			return e.InternalServerError("first-admin elevation failed", err)
		}
		// Re-fetch: ElevateIfFirstAdmin may have flipped is_admin in its own
		// transaction after record was loaded into memory here.
		record, err = e.App.FindRecordById("users", record.Id)
		if err != nil {
			return e.InternalServerError("reload after registration failed", err)
		}

		token, err := tokenCache.Issue(record.Id)
		if err != nil {
			return e.InternalServerError("token issuance failed", err)
		}

		audit.Write(e.App, audit.Entry{
			UserID: record.Id, UserEmail: record.GetString("email"),
			Action: "auth.register", ResourceType: "user", ResourceID: record.Id,
			ResourceName: record.GetString("username"),
			Status:       audit.StatusSuccess, IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
		})

		return e.JSON(http.StatusOK, map[string]any{
			"success": true,
			"token":   token,
			"isAdmin": record.GetBool("is_admin"),
		})
	})

	g.POST("/logout-all", func(e *core.RequestEvent) error {
		raw := e.Request.URL.Query().Get("token")
		if h := e.Request.Header.Get("Authorization"); h != "" {
			raw = strings.TrimPrefix(h, "Bearer ")
		}
		result := tokenCache.Verify(raw)
		if !result.Valid {
			return e.UnauthorizedError("missing or invalid bearer token", nil)
		}
		tokenCache.LogoutAll(result.PrincipalID)

		audit.Write(e.App, audit.Entry{
			UserID: result.PrincipalID, Action: "auth.logoutAll",
			ResourceType: "session", ResourceID: result.PrincipalID,
			Status: audit.StatusSuccess, IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
		})
		return e.JSON(http.StatusOK, map[string]any{"success": true})
	})

	g.POST("/login", func(e *core.RequestEvent) error {
		var body struct {
			Username          string `json:"username"`
			Password          string `json:"password"`
			IsMfaVerification bool   `json:"isMfaVerification"`
			MfaCode           string `json:"mfaCode"`
		}
		if err := e.BindBody(&body); err != nil {
			return e.BadRequestError("invalid request body", err)
		}

		record, err := e.App.FindFirstRecordByFilter("users",
			"username = {:u}", dbx.Params{"u": body.Username})
		if err != nil || record == nil {
			audit.Write(e.App, audit.Entry{
				UserID: "unknown", Action: "auth.login", ResourceType: "user",
				ResourceName: body.Username, Status: audit.StatusFailed,
				IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
				Detail: map[string]any{"reason": "unknown username"},
			})
			return e.JSON(http.StatusUnauthorized, errResponse("INVALID_CREDENTIALS", "invalid username or password"))
		}
		if record.GetString("status") == "disabled" {
			return e.JSON(http.StatusForbidden, errResponse("ACCOUNT_DISABLED", "account is disabled"))
		}

		if body.IsMfaVerification {
			return handleMfaVerification(e, tokenCache, record, body.MfaCode)
		}

		if !record.ValidatePassword(body.Password) {
			audit.Write(e.App, audit.Entry{
				UserID: record.Id, UserEmail: record.GetString("email"),
				Action: "auth.login", ResourceType: "user", ResourceID: record.Id,
				ResourceName: record.GetString("username"), Status: audit.StatusFailed,
				IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
				Detail: map[string]any{"reason": "bad password"},
			})
			return e.JSON(http.StatusUnauthorized, errResponse("INVALID_CREDENTIALS", "invalid username or password"))
		}

		if record.GetBool("mfa_enabled") {
			return e.JSON(http.StatusOK, map[string]any{
				"success": true,
				"needMfa": true,
			})
		}

		token, err := tokenCache.Issue(record.Id)
		if err != nil {
			return e.InternalServerError("token issuance failed", err)
		}
		audit.Write(e.App, audit.Entry{
			UserID: record.Id, UserEmail: record.GetString("email"),
			Action: "auth.login", ResourceType: "user", ResourceID: record.Id,
			ResourceName: record.GetString("username"), Status: audit.StatusSuccess,
			IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
		})
		return e.JSON(http.StatusOK, map[string]any{
			"success": true,
			"token":   token,
			"isAdmin": record.GetBool("is_admin"),
		})
	})
}

// handleMfaVerification covers the second leg of login: a TOTP code
// submitted against an already-password-verified session, completing login
// once the account's mfa_enabled flag demanded a second factor. Disabling
// MFA is a separate, bearer-protected action (see DELETE
// /api/gw/users/mfa in mfa.go) since it isn't something an unauthenticated
// login request should be able to trigger.
func handleMfaVerification(e *core.RequestEvent, tokenCache *tokens.Cache, record *core.Record, code string) error {
	if !auth.VerifyTOTPCode(record.GetString("mfa_secret"), code) {
		audit.Write(e.App, audit.Entry{
			UserID: record.Id, UserEmail: record.GetString("email"),
			Action: "auth.login", ResourceType: "user", ResourceID: record.Id,
			ResourceName: record.GetString("username"), Status: audit.StatusFailed,
			IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
			Detail: map[string]any{"reason": "bad MFA code"},
		})
		return e.JSON(http.StatusUnauthorized, errResponse("MFA_INVALID", "invalid MFA code"))
	}

	token, err := tokenCache.Issue(record.Id)
	if err != nil {
		return e.InternalServerError("token issuance failed", err)
	}
	audit.Write(e.App, audit.Entry{
		UserID: record.Id, UserEmail: record.GetString("email"),
		Action: "auth.login", ResourceType: "user", ResourceID: record.Id,
		ResourceName: record.GetString("username"), Status: audit.StatusSuccess,
		IP: e.RealIP(), UserAgent: e.Request.Header.Get("User-Agent"),
	})
	return e.JSON(http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"isAdmin": record.GetBool("is_admin"),
	})
}

func errResponse(code, message string) map[string]any {
	return map[string]any{
		"success":      false,
		"errorCode":    code,
		"errorMessage": message,
	}
}
