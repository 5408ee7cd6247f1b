package conn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/clawlink/clawlink/internal/bridge/protocol"
	"github.com/clawlink/clawlink/internal/identity"
)

const signDelimiter = "|"

// canonicalConnectPayload builds the exact string the device key signs for
// one connect attempt. Field order and delimiter are fixed by the gateway;
// scopes are sorted so the signature is independent of configuration order,
// and the nonce binds the signature to a single attempt.
func canonicalConnectPayload(fingerprint, clientID, mode, role string, scopes []string, signedAt int64, token, nonce string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)

	parts := []string{
		fmt.Sprintf("v%d", protocol.ProtocolVersion),
		fingerprint,
		clientID,
		mode,
		role,
		strings.Join(sorted, ","),
		strconv.FormatInt(signedAt, 10),
		token,
		nonce,
	}
	return strings.Join(parts, signDelimiter)
}

// signDevice produces the device block for a connect request. Returns nil
// when no device identity is configured.
func signDevice(id *identity.Identity, client protocol.ClientInfo, role string, scopes []string, token, nonce string) *protocol.DeviceInfo {
	if id == nil {
		return nil
	}
	signedAt := time.Now().UnixMilli()
	payload := canonicalConnectPayload(id.Fingerprint(), client.ID, client.Mode, role, scopes, signedAt, token, nonce)
	return &protocol.DeviceInfo{
		ID:        id.ID(),
		PublicKey: id.PublicKeyEncoded(),
		Signature: id.Sign([]byte(payload)),
		SignedAt:  signedAt,
		Nonce:     nonce,
	}
}
