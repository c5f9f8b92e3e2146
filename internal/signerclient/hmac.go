package signerclient

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Keyring authentication headers.
const (
	HeaderClientID  = "X-Keyring-Client-Id"
	HeaderKeyID     = "X-Keyring-Key-Id"
	HeaderNonce     = "X-Keyring-Nonce"
	HeaderTimestamp = "X-Keyring-Timestamp"
	HeaderSignature = "X-Keyring-Signature"
)

const nonceBytes = 16

// HMACAuthenticator signs each request with a fresh nonce, the current
// timestamp in unix milliseconds and an HMAC-SHA256 over
// timestamp.nonce.METHOD.path.hex(sha256(body)).
type HMACAuthenticator struct {
	clientID string
	secret   []byte
	keyID    string

	now   func() time.Time
	nonce func() (string, error)
}

// NewHMACAuthenticator creates an authenticator for one client identity.
func NewHMACAuthenticator(clientID, secret, keyID string) *HMACAuthenticator {
	return &HMACAuthenticator{
		clientID: clientID,
		secret:   []byte(secret),
		keyID:    keyID,
		now:      time.Now,
		nonce:    randomNonce,
	}
}

// Authenticate sets the keyring headers on req.
func (a *HMACAuthenticator) Authenticate(req *http.Request, body []byte) error {
	nonce, err := a.nonce()
	if err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	timestamp := strconv.FormatInt(a.now().UnixMilli(), 10)

	payload := SigningPayload(timestamp, nonce, req.Method, req.URL.EscapedPath(), body)

	req.Header.Set(HeaderClientID, a.clientID)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, ComputeSignature(a.secret, payload))
	if a.keyID != "" {
		req.Header.Set(HeaderKeyID, a.keyID)
	}
	return nil
}

// SigningPayload builds the string covered by the request signature.
func SigningPayload(timestamp, nonce, method, path string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	return strings.Join([]string{
		timestamp,
		nonce,
		strings.ToUpper(method),
		path,
		hex.EncodeToString(bodyHash[:]),
	}, ".")
}

// ComputeSignature returns hex(HMAC-SHA256(secret, payload)).
func ComputeSignature(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature in constant time.
func VerifySignature(secret []byte, payload, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), expected)
}

func randomNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
