package multibanco

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cvlens-pay/internal/payment"
)

func TestInitiateReturnsEntityAndReference(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		_, _ = w.Write([]byte(`{"Amount":"29.90","Entity":12345,"ExpiryDate":"20-10-2026","Message":"Success","OrderId":"CV001","Reference":"123456789","RequestId":"MBREQ1","Status":"0"}`))
	}))
	defer server.Close()

	gw, err := New(Config{Key: "MB-KEY", BaseURL: server.URL, ExpiryDays: 5})
	if err != nil {
		t.Fatalf("new gateway failed: %v", err)
	}
	result, err := gw.Initiate(context.Background(), payment.InitiateInput{
		OrderID:       "CV001",
		Amount:        "29.90",
		CustomerName:  "Ana Silva",
		CustomerEmail: "ana@example.com",
		Description:   "CV report",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if result.Entity != "12345" || result.Reference != "123456789" || result.ExpiryDate != "20-10-2026" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.RequestID != "MBREQ1" {
		t.Fatalf("unexpected request id: %s", result.RequestID)
	}
	if received["mbKey"] != "MB-KEY" || received["clientName"] != "Ana Silva" {
		t.Fatalf("unexpected payload: %+v", received)
	}
	if received["expiryDays"] != float64(5) {
		t.Fatalf("unexpected expiry days: %v", received["expiryDays"])
	}
	fields := result.Fields()
	if fields["entity"] != "12345" || fields["reference"] != "123456789" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestInitiateMissingReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Entity":"12345","Message":"Invalid key","Status":"-1"}`))
	}))
	defer server.Close()

	gw, _ := New(Config{Key: "MB-KEY", BaseURL: server.URL})
	_, err := gw.Initiate(context.Background(), payment.InitiateInput{OrderID: "CV002", Amount: "10.00"})
	if !errors.Is(err, payment.ErrResponseInvalid) {
		t.Fatalf("expected response invalid, got %v", err)
	}
}

func TestQueryStatusUnsupported(t *testing.T) {
	gw, _ := New(Config{Key: "MB-KEY"})
	if _, err := gw.QueryStatus(context.Background(), "MBREQ1"); !errors.Is(err, payment.ErrStatusQueryUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}
