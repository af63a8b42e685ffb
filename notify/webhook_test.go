package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookSignsPayload(t *testing.T) {
	var receivedSignature atomic.Value
	var receivedBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		receivedBody.Store(body)
		receivedSignature.Store(r.Header.Get("X-TwoCheck-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	defer sender.Close()

	sender.Send(Message{To: "warehouse-b", Subject: "shipment confirmed", TransactionID: "tx-1"})
	waitFor(func() bool { return receivedSignature.Load() != nil }, time.Second)

	sig, _ := receivedSignature.Load().(string)
	if sig == "" {
		t.Fatal("expected signature header")
	}
	body, _ := receivedBody.Load().([]byte)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); sig != want {
		t.Fatalf("signature mismatch: got %s want %s", sig, want)
	}
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.To != "warehouse-b" || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(server.URL, []byte("secret"), WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	defer sender.Close()

	sender.Send(Message{To: "factory-a", Subject: "transfer timed out"})
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestWebhookRequiresEndpointAndSecret(t *testing.T) {
	if _, err := NewWebhookSender("", []byte("secret")); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := NewWebhookSender("http://localhost:9", nil); err == nil {
		t.Fatal("expected error without secret")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
