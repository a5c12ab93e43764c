// Package gateway talks to the external payment provider. Intents are
// created over its REST API and callbacks are authenticated with an
// HMAC-SHA256 signature over "intentID|paymentID".
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrEmptyIntentID = errors.New("gateway: empty intent id in response")

// Intent is an authorization in progress for a fixed amount
type Intent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Gateway is the provider surface the checkout flow needs
type Gateway interface {
	CreateIntent(ctx context.Context, amountCents int64, currency, receipt string) (*Intent, error)
	VerifySignature(intentID, paymentID, signature string) bool
	KeyID() string
}

// Sign returns the hex signature the provider attaches to a callback
func Sign(secret, intentID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature was produced from the two ids
// with secret. Comparison is constant time.
func VerifySignature(secret, intentID, paymentID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, intentID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
