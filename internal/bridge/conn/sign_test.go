package conn

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/clawlink/clawlink/internal/bridge/protocol"
	"github.com/clawlink/clawlink/internal/identity"
)

func TestCanonicalConnectPayload(t *testing.T) {
	got := canonicalConnectPayload(
		"fp-abc", "clawlink", "cli", "operator",
		[]string{"chat", "approvals"}, 1700000000123, "tok", "nonce-1",
	)
	want := "v3|fp-abc|clawlink|cli|operator|approvals,chat|1700000000123|tok|nonce-1"
	if got != want {
		t.Errorf("canonicalConnectPayload = %q; want %q", got, want)
	}
}

func TestCanonicalConnectPayloadScopeOrder(t *testing.T) {
	a := canonicalConnectPayload("f", "c", "m", "r", []string{"b", "a", "c"}, 1, "t", "n")
	b := canonicalConnectPayload("f", "c", "m", "r", []string{"c", "a", "b"}, 1, "t", "n")
	if a != b {
		t.Errorf("scope order changed the payload: %q vs %q", a, b)
	}
	if !strings.Contains(a, "|a,b,c|") {
		t.Errorf("payload %q does not carry sorted scopes", a)
	}
}

func TestCanonicalConnectPayloadEmptyFields(t *testing.T) {
	got := canonicalConnectPayload("fp", "cli", "", "", nil, 0, "", "")
	want := "v3|fp|cli|||" + "|0||"
	if got != want {
		t.Errorf("canonicalConnectPayload = %q; want %q", got, want)
	}
}

func TestSignDevice(t *testing.T) {
	id, err := identity.Generate(filepath.Join(t.TempDir(), "device.json"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	client := protocol.ClientInfo{ID: "clawlink", Mode: "cli"}

	dev := signDevice(id, client, "operator", []string{"chat"}, "tok", "nonce-9")
	if dev == nil {
		t.Fatal("signDevice returned nil for a present identity")
	}
	if dev.ID != id.ID() {
		t.Errorf("Device.ID = %q; want %q", dev.ID, id.ID())
	}
	if dev.Nonce != "nonce-9" {
		t.Errorf("Device.Nonce = %q; want %q", dev.Nonce, "nonce-9")
	}

	payload := canonicalConnectPayload(
		id.Fingerprint(), client.ID, client.Mode, "operator",
		[]string{"chat"}, dev.SignedAt, "tok", "nonce-9",
	)
	if !id.Verify([]byte(payload), dev.Signature) {
		t.Errorf("signature does not verify against %q", payload)
	}
	if id.Verify([]byte(payload+"x"), dev.Signature) {
		t.Error("signature verified against a tampered payload")
	}
}

func TestSignDeviceNilIdentity(t *testing.T) {
	if dev := signDevice(nil, protocol.ClientInfo{}, "", nil, "", ""); dev != nil {
		t.Errorf("signDevice(nil, ...) = %+v; want nil", dev)
	}
}
