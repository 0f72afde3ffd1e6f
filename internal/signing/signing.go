// Package signing implements the HMAC scheme used to authenticate storage
// webhook deliveries. The gateway signs the raw notification body; replays of
// stale deliveries are bounded by the signed timestamp.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MaxSkew bounds how old a signed delivery may be.
const MaxSkew = 5 * time.Minute

// Verifier validates HMAC signatures over webhook bodies.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. A nil or empty secret disables verification;
// callers should treat that as "accept everything" only in development.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign computes the hex signature for a body at a given unix timestamp. The
// timestamp is folded into the MAC so a captured delivery cannot be replayed
// outside the skew window.
func (v *Verifier) Sign(body []byte, unix int64) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate checks the signature and timestamp of a delivery.
func (v *Verifier) Validate(body []byte, timestamp, signature string) bool {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(unix, 0))
	if age > MaxSkew || age < -MaxSkew {
		return false
	}
	expected := v.Sign(body, unix)
	return hmac.Equal([]byte(expected), []byte(signature))
}
