package coachlink

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Push Delivery Types
// ============================================================================

// PushPayload is the body CoachLink POSTs to a registered push endpoint
// when a notification cannot be delivered over an open socket.
type PushPayload struct {
	Source       string           `json:"source"`
	Event        string           `json:"event"`
	Timestamp    int64            `json:"timestamp"`
	Notification wireNotification `json:"notification"`
}

// PushHandlerFunc is the callback signature for handling push payloads.
type PushHandlerFunc func(n Notification) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyPushSignature verifies a push delivery signature using HMAC-SHA256.
// Uses constant-time comparison to prevent timing attacks.
func VerifyPushSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParsePushPayload parses a raw push body into a typed PushPayload.
func ParsePushPayload(body string) (*PushPayload, error) {
	var payload PushPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in push body: %w", err)
	}

	if payload.Source != "coachlink" {
		return nil, fmt.Errorf("unknown push source: %s", payload.Source)
	}
	if payload.Event != "notification" {
		return nil, fmt.Errorf("unsupported push event: %s", payload.Event)
	}
	if err := validate.Struct(&payload.Notification); err != nil {
		return nil, fmt.Errorf("invalid push notification: %w", err)
	}

	return &payload, nil
}

// SignPushBody computes the signature CoachLink attaches to push
// deliveries, exported so integration environments can mint valid test
// requests.
func SignPushBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ============================================================================
// PushReceiver
// ============================================================================

// PushReceiver verifies, parses, and dispatches push deliveries. Companion
// processes run it to feed notifications into a NotificationStore when the
// main socket is down.
type PushReceiver struct {
	secret   string
	onNotify PushHandlerFunc
}

// NewPushReceiver creates a push receiver. The handler typically forwards
// into a store:
//
//	pr, _ := coachlink.NewPushReceiver(secret, func(n coachlink.Notification) error {
//		store.ApplyIncoming(n)
//		return nil
//	})
//	http.Handle("/push", pr.HTTPHandler())
func NewPushReceiver(secret string, onNotify PushHandlerFunc) (*PushReceiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("push secret is required")
	}
	if onNotify == nil {
		return nil, fmt.Errorf("push handler is required")
	}
	return &PushReceiver{
		secret:   secret,
		onNotify: onNotify,
	}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (p *PushReceiver) Verify(body, signature string) bool {
	return VerifyPushSignature(body, signature, p.secret)
}

// Handle processes a push request (verify + parse + dispatch). Returns the
// status code and response body for the caller to write.
func (p *PushReceiver) Handle(body, signature string) (int, any) {
	if !p.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	payload, err := ParsePushPayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	// Stale deliveries are accepted; dedup happens in the store.
	if payload.Notification.CreatedAt.IsZero() && payload.Timestamp > 0 {
		payload.Notification.CreatedAt = time.UnixMilli(payload.Timestamp).UTC()
	}
	n := normalizeNotification(&payload.Notification)

	if err := p.onNotify(n); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes push requests.
func (p *PushReceiver) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := p.Handle(string(bodyBytes), r.Header.Get("X-CoachLink-Signature"))
		writeJSON(rw, statusCode, data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (p *PushReceiver) HTTPHandlerFunc() http.HandlerFunc {
	return p.HTTPHandler().ServeHTTP
}

func writeJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(data)
}
