package identity

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")

	generated, err := Generate(path)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if generated.ID() == "" {
		t.Error("generated identity has no device id")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("identity file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("identity file mode = %o; want 600", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID() != generated.ID() {
		t.Errorf("loaded id = %q; want %q", loaded.ID(), generated.ID())
	}
	if loaded.Fingerprint() != generated.Fingerprint() {
		t.Errorf("loaded fingerprint = %q; want %q", loaded.Fingerprint(), generated.Fingerprint())
	}
	if loaded.PublicKeyEncoded() != generated.PublicKeyEncoded() {
		t.Error("loaded public key differs from the generated one")
	}
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.json")
	if _, err := Generate(path); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := Generate(path); err == nil {
		t.Fatal("second Generate succeeded; an installed keypair must never be regenerated")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Load on a missing file = %v; want ErrNoIdentity", err)
	}
}

func TestLoadRejectsCorruptFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not_json", "garbage"},
		{"bad_public_key", `{"deviceId":"d","publicKey":"!!","privateKey":"!!"}`},
		{"missing_device_id", `{"publicKey":"` + validKeyB64(t, 32) + `","privateKey":"` + validKeyB64(t, 64) + `"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "device.json")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load accepted a corrupt identity file")
			}
		})
	}
}

// validKeyB64 returns filler key material of the right length and encoding.
func validKeyB64(t *testing.T, n int) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString(make([]byte, n))
}

func TestFingerprint(t *testing.T) {
	id, err := Generate(filepath.Join(t.TempDir(), "device.json"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	fp := id.Fingerprint()
	if len(fp) != 64 {
		t.Errorf("fingerprint length = %d; want 64 hex chars", len(fp))
	}
	if _, err := hex.DecodeString(fp); err != nil {
		t.Errorf("fingerprint %q is not hex: %v", fp, err)
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate(filepath.Join(t.TempDir(), "device.json"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	payload := []byte("v3|fp|client|cli|operator|chat|1700000000000|tok|nonce")
	sig := id.Sign(payload)
	if !id.Verify(payload, sig) {
		t.Error("signature does not verify")
	}
	if id.Verify([]byte("tampered"), sig) {
		t.Error("signature verified a different payload")
	}
	if id.Verify(payload, "not-base64!") {
		t.Error("Verify accepted undecodable signature input")
	}

	other, err := Generate(filepath.Join(t.TempDir(), "device.json"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if other.Verify(payload, sig) {
		t.Error("signature verified under a different key")
	}
}
