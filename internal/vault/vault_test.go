package vault_test

import (
	"strings"
	"testing"

	"github.com/relayforge/sshgateway/internal/vault"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	vault.ResetKey()
	defer vault.ResetKey()

	tests := []string{
		"hello",
		"a longer secret value with special chars: !@#$%^&*()",
		"中文密码测试",
		strings.Repeat("x", 10000),
	}

	for _, plaintext := range tests {
		encrypted, err := vault.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error: %v", plaintext, err)
		}
		if encrypted == plaintext {
			t.Error("encrypted should differ from plaintext")
		}

		decrypted, err := vault.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("Decrypt error: %v", err)
		}
		if decrypted != plaintext {
			t.Fatalf("round trip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncryptDecryptEmpty(t *testing.T) {
	vault.ResetKey()
	defer vault.ResetKey()

	enc, err := vault.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt(\"\") error: %v", err)
	}
	if enc != "" {
		t.Fatalf("Encrypt(\"\") = %q, want empty", enc)
	}
	dec, err := vault.Decrypt("")
	if err != nil {
		t.Fatalf("Decrypt(\"\") error: %v", err)
	}
	if dec != "" {
		t.Fatalf("Decrypt(\"\") = %q, want empty", dec)
	}
}

func TestDecryptShortCiphertext(t *testing.T) {
	vault.ResetKey()
	defer vault.ResetKey()

	if _, err := vault.Decrypt("ab"); err != vault.ErrCiphertextTooShort {
		t.Fatalf("Decrypt(short) error = %v, want ErrCiphertextTooShort", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	vault.ResetKey()
	defer vault.ResetKey()

	enc, err := vault.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("Encrypt error: %v", err)
	}
	tampered := []byte(enc)
	tampered[len(tampered)-1] ^= 1
	if _, err := vault.Decrypt(string(tampered)); err == nil {
		t.Fatal("Decrypt(tampered) succeeded, want auth failure")
	}
}

func TestProcessConnectionSecretsRoundTrip(t *testing.T) {
	vault.ResetKey()
	defer vault.ResetKey()

	plain := vault.ConnectionSecrets{
		Password:   "hunter2",
		PrivateKey: "",
		Passphrase: "phrase",
	}

	enc, err := vault.ProcessConnectionSecrets(plain, vault.Encrypt_)
	if err != nil {
		t.Fatalf("encrypt direction error: %v", err)
	}
	if enc.Password == plain.Password {
		t.Error("password should be encrypted")
	}
	if enc.PrivateKey != "" {
		t.Error("empty private key should stay empty")
	}

	dec, err := vault.ProcessConnectionSecrets(enc, vault.Decrypt_)
	if err != nil {
		t.Fatalf("decrypt direction error: %v", err)
	}
	if dec != plain {
		t.Fatalf("round trip mismatch: got %+v, want %+v", dec, plain)
	}
}
