package coachlink

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testPushSecret = "test-push-secret-key"

func makePushPayload() map[string]any {
	return map[string]any{
		"source":    "coachlink",
		"event":     "notification",
		"timestamp": 1756700000000,
		"notification": map[string]any{
			"id":        "n-001",
			"userId":    "user-1",
			"title":     "New message",
			"message":   "Your trainer replied",
			"type":      "INFO",
			"isRead":    false,
			"createdAt": "2026-08-01T00:00:00Z",
		},
	}
}

func makePushBody() string {
	b, _ := json.Marshal(makePushPayload())
	return string(b)
}

// ============================================================================
// VerifyPushSignature
// ============================================================================

func TestVerifyPushSignature(t *testing.T) {
	t.Run("valid signature", func(t *testing.T) {
		body := makePushBody()
		sig := SignPushBody(body, testPushSecret)
		if !VerifyPushSignature(body, sig, testPushSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		body := makePushBody()
		sig := strings.TrimPrefix(SignPushBody(body, testPushSecret), "sha256=")
		if !VerifyPushSignature(body, sig, testPushSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		body := makePushBody()
		sig := SignPushBody(body, "other-secret")
		if VerifyPushSignature(body, sig, testPushSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body := makePushBody()
		sig := SignPushBody(body, testPushSecret)
		if VerifyPushSignature(body+"x", sig, testPushSecret) {
			t.Fatal("expected invalid signature for tampered body")
		}
	})

	t.Run("empty inputs", func(t *testing.T) {
		if VerifyPushSignature("", "sig", "secret") ||
			VerifyPushSignature("body", "", "secret") ||
			VerifyPushSignature("body", "sig", "") {
			t.Fatal("expected empty inputs to be rejected")
		}
	})
}

// ============================================================================
// ParsePushPayload
// ============================================================================

func TestParsePushPayload(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		p, err := ParsePushPayload(makePushBody())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Notification.ID != "n-001" {
			t.Fatalf("unexpected notification id: %s", p.Notification.ID)
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		payload := makePushPayload()
		payload["source"] = "someone_else"
		b, _ := json.Marshal(payload)
		if _, err := ParsePushPayload(string(b)); err == nil {
			t.Fatal("expected unknown source error")
		}
	})

	t.Run("missing notification id", func(t *testing.T) {
		payload := makePushPayload()
		payload["notification"].(map[string]any)["id"] = ""
		b, _ := json.Marshal(payload)
		if _, err := ParsePushPayload(string(b)); err == nil {
			t.Fatal("expected validation error")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := ParsePushPayload("{not json"); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

// ============================================================================
// PushReceiver
// ============================================================================

func TestPushReceiverHandle(t *testing.T) {
	t.Run("valid delivery reaches the handler", func(t *testing.T) {
		var got []Notification
		pr, err := NewPushReceiver(testPushSecret, func(n Notification) error {
			got = append(got, n)
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		body := makePushBody()
		status, _ := pr.Handle(body, SignPushBody(body, testPushSecret))
		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if len(got) != 1 || got[0].ID != "n-001" {
			t.Fatalf("handler did not receive the notification: %+v", got)
		}
	})

	t.Run("bad signature is rejected before parsing", func(t *testing.T) {
		pr, _ := NewPushReceiver(testPushSecret, func(Notification) error {
			t.Fatal("handler must not run")
			return nil
		})
		status, _ := pr.Handle(makePushBody(), "sha256=deadbeef")
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
	})

	t.Run("handler error maps to 500", func(t *testing.T) {
		pr, _ := NewPushReceiver(testPushSecret, func(Notification) error {
			return fmt.Errorf("store unavailable")
		})
		body := makePushBody()
		status, _ := pr.Handle(body, SignPushBody(body, testPushSecret))
		if status != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", status)
		}
	})

	t.Run("requires secret and handler", func(t *testing.T) {
		if _, err := NewPushReceiver("", func(Notification) error { return nil }); err == nil {
			t.Fatal("expected error for empty secret")
		}
		if _, err := NewPushReceiver("s", nil); err == nil {
			t.Fatal("expected error for nil handler")
		}
	})
}

func TestPushReceiverHTTPHandler(t *testing.T) {
	store := NewNotificationStore(nil, newFakeEmitter(), testIdentity)
	pr, err := NewPushReceiver(testPushSecret, func(n Notification) error {
		store.ApplyIncoming(n)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv := httptest.NewServer(pr.HTTPHandler())
	defer srv.Close()

	t.Run("POST delivers into the store", func(t *testing.T) {
		body := makePushBody()
		req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(body))
		req.Header.Set("X-CoachLink-Signature", SignPushBody(body, testPushSecret))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if store.UnreadCount() != 1 {
			t.Fatalf("expected 1 unread notification, got %d", store.UnreadCount())
		}
	})

	t.Run("GET is rejected", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", resp.StatusCode)
		}
	})
}
