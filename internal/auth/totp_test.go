package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestGenerateTOTPSecretProducesValidatableSecret(t *testing.T) {
	key, err := GenerateTOTPSecret("alice@example.com")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	if key.Secret() == "" {
		t.Fatal("generated key has an empty secret")
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if !VerifyTOTPCode(key.Secret(), code) {
		t.Fatal("VerifyTOTPCode rejected a freshly generated valid code")
	}
}

func TestVerifyTOTPCodeRejectsWrongCode(t *testing.T) {
	key, err := GenerateTOTPSecret("bob@example.com")
	if err != nil {
		t.Fatalf("GenerateTOTPSecret: %v", err)
	}
	if VerifyTOTPCode(key.Secret(), "000000") {
		t.Fatal("VerifyTOTPCode accepted an arbitrary code")
	}
}

func TestVerifyTOTPCodeRejectsEmptyInputs(t *testing.T) {
	if VerifyTOTPCode("", "123456") {
		t.Fatal("VerifyTOTPCode accepted an empty secret")
	}
	if VerifyTOTPCode("JBSWY3DPEHPK3PXP", "") {
		t.Fatal("VerifyTOTPCode accepted an empty code")
	}
}
