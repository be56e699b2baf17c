package payshop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cvlens-pay/internal/payment"
)

func TestInitiateReturnsReference(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		_, _ = w.Write([]byte(`{"Code":"0","Message":"Sucesso","Reference":"987654321","RequestId":"PSREQ1"}`))
	}))
	defer server.Close()

	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	gw, err := New(Config{
		Key:        "PS-KEY",
		BaseURL:    server.URL,
		ExpiryDays: 3,
		Now:        func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new gateway failed: %v", err)
	}
	result, err := gw.Initiate(context.Background(), payment.InitiateInput{OrderID: "CV001", Amount: "29.90"})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if result.Reference != "987654321" || result.RequestID != "PSREQ1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ExpiryDate != "21-10-2026" {
		t.Fatalf("unexpected expiry date: %s", result.ExpiryDate)
	}
	if received["payshopkey"] != "PS-KEY" || received["id"] != "CV001" || received["valor"] != "29.90" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received["validade"] != "20261021" {
		t.Fatalf("unexpected validade: %v", received["validade"])
	}
}

func TestInitiateRejectsErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Code":"1","Message":"Invalid key","Reference":""}`))
	}))
	defer server.Close()

	gw, _ := New(Config{Key: "PS-KEY", BaseURL: server.URL})
	_, err := gw.Initiate(context.Background(), payment.InitiateInput{OrderID: "CV002", Amount: "10.00"})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("expected response invalid, got %v", err)
	}
}

func TestQueryStatusUnsupported(t *testing.T) {
	gw, _ := New(Config{Key: "PS-KEY"})
	if _, err := gw.QueryStatus(context.Background(), "PSREQ1"); !errors.Is(err, payment.ErrStatusQueryUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}
