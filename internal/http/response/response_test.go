package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestErrorAttachesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("request_id", "req-1")

	Error(c, CodeBadGateway, "gateway down")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body["success"] != false || body["error"] != "gateway down" || body["request_id"] != "req-1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestSuccessSetsFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Success(c, gin.H{"paid": true})

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if body["success"] != true || body["paid"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestWrapErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	appErr := WrapError(CodeInternal, "internal error", cause)
	if !errors.Is(appErr, cause) {
		t.Fatalf("expected wrapped cause")
	}
	if appErr.Error() != "internal error: boom" {
		t.Fatalf("unexpected message: %s", appErr.Error())
	}
}
