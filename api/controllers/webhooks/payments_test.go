package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gatewaywebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestPaymentWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := []byte(`{"id":"evnt_1","key":"charge.complete","data":{"object":"charge","id":"chrg_1","status":"successful"}}`)
	service := &fakeWebhookService{}
	guard := newGuard(t)
	handler := PaymentWebhook(service, "secret", guard, nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, sign(payload, "secret"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}
	if service.last.Data.ID != "chrg_1" {
		t.Fatalf("unexpected charge %q", service.last.Data.ID)
	}
}

func TestPaymentWebhook_InvalidSignature(t *testing.T) {
	payload := []byte(`{"id":"evnt_2","key":"charge.complete","data":{"object":"charge","id":"chrg_2"}}`)
	service := &fakeWebhookService{}
	handler := PaymentWebhook(service, "secret", newGuard(t), nil)

	for _, header := range []string{"", "deadbeef", sign(payload, "other")} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
		if header != "" {
			req.Header.Set(SignatureHeader, header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestPaymentWebhook_AcceptsPrefixedSignature(t *testing.T) {
	payload := []byte(`{"id":"evnt_3","key":"charge.complete","data":{"object":"charge","id":"chrg_3"}}`)
	service := &fakeWebhookService{}
	handler := PaymentWebhook(service, "secret", newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, "sha256="+sign(payload, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPaymentWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload := []byte(`{"id":"evnt_4","key":"charge.complete","data":{"object":"charge","id":"chrg_4"}}`)
	service := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway down")}
	handler := PaymentWebhook(service, "secret", newGuard(t), nil)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
		req.Header.Set(SignatureHeader, sign(payload, "secret"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(); code < http.StatusInternalServerError {
		t.Fatalf("expected 5xx, got %d", code)
	}
	service.err = nil
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", code)
	}
	if service.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", service.calls)
	}
}

func TestPaymentWebhook_RejectsMalformedBody(t *testing.T) {
	payload := []byte(`not json`)
	handler := PaymentWebhook(&fakeWebhookService{}, "secret", newGuard(t), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, sign(payload, "secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func newGuard(t *testing.T) *gatewaywebhook.IdempotencyGuard {
	t.Helper()
	guard, err := gatewaywebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "gateway_webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type fakeWebhookService struct {
	calls int
	last  gatewaywebhook.Event
	err   error
}

func (f *fakeWebhookService) HandleEvent(_ context.Context, event *gatewaywebhook.Event) error {
	f.calls++
	f.last = *event
	return f.err
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("sf:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
