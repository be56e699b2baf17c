package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cvlens-pay/internal/config"
	"github.com/cvlens-pay/internal/payment"
	"github.com/cvlens-pay/internal/provider"
	"github.com/cvlens-pay/internal/repository"

	"github.com/gin-gonic/gin"
)

func TestSetupRouterRegistersPaymentRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Server: config.ServerConfig{Mode: "debug"}}
	container := provider.NewContainerWith(cfg, repository.NewMemoryPaymentRecordRepository(), payment.NewRegistry(), nil, nil)
	r := SetupRouter(cfg, container)

	want := map[string]bool{
		"POST /api/v1/payments/initiate":        false,
		"GET /api/v1/payments/webhook":          false,
		"POST /api/v1/payments/webhook":         false,
		"GET /api/v1/payments/status/:order_id": false,
		"GET /healthz":                          false,
	}
	for _, route := range r.Routes() {
		key := route.Method + " " + route.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Fatalf("route %s not registered", key)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz want 200 got %d", w.Code)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("request id header should be set")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route want 404 got %d", w.Code)
	}
}

func TestWebhookWithoutConfiguredKeyIsForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Server: config.ServerConfig{Mode: "debug"}}
	container := provider.NewContainerWith(cfg, repository.NewMemoryPaymentRecordRepository(), payment.NewRegistry(), nil, nil)
	r := SetupRouter(cfg, container)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payments/webhook?key=&orderId=CV-1", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status want 403 got %d", w.Code)
	}
}
