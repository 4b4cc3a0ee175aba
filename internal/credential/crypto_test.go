package credential

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "super-secret-passphrase"
	encrypted, err := Encrypt(passphrase, "sk-ant-abc123")
	if err != nil {
		t.Fatal(err)
	}
	if encrypted[:len(encryptedPrefix)] != encryptedPrefix {
		t.Fatalf("expected enc:v1: prefix, got %q", encrypted)
	}
	decrypted, err := Decrypt(passphrase, encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if decrypted != "sk-ant-abc123" {
		t.Fatalf("got %q", decrypted)
	}
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	passphrase := "super-secret-passphrase"
	encrypted, err := Encrypt(passphrase, "sk-ant-abc123")
	if err != nil {
		t.Fatal(err)
	}
	tampered := encrypted[:len(encrypted)-4] + "AAAA"
	if _, err := Decrypt(passphrase, tampered); err == nil {
		t.Fatal("expected tampered payload to fail decryption")
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	got, err := Decrypt("whatever-passphrase", "plain-value")
	if err != nil {
		t.Fatal(err)
	}
	if got != "plain-value" {
		t.Fatalf("got %q", got)
	}
}

func TestEncryptRejectsShortPassphrase(t *testing.T) {
	if _, err := Encrypt("short", "secret"); err == nil {
		t.Fatal("expected error for passphrase under 8 characters")
	}
}
