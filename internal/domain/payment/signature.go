package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the callback signature: hex(HMAC-SHA256(secret,
// gatewayOrderID + "|" + gatewayPaymentID)).
func Sign(secret, gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature in constant time. A mismatch is
// terminal, never retried: a forged callback must not be retried into
// success.
func VerifySignature(secret string, c Callback) bool {
	expected := Sign(secret, c.GatewayOrderID, c.GatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(c.Signature))
}
