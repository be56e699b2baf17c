package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPGeneratorReturnsPDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("unexpected authorization header: %q", r.Header.Get("Authorization"))
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body failed: %v", err)
		}
		if _, ok := body["analysis"]; !ok {
			t.Errorf("analysis payload missing: %+v", body)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer server.Close()

	gen, err := NewHTTPGenerator(HTTPGeneratorConfig{URL: server.URL, AuthToken: "token-1"})
	if err != nil {
		t.Fatalf("new generator failed: %v", err)
	}
	doc, err := gen.Generate(context.Background(), map[string]interface{}{"score": 80})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if string(doc) != "%PDF-1.7 fake" {
		t.Fatalf("unexpected document: %q", string(doc))
	}
}

func TestHTTPGeneratorRejectsNonPDF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>error</html>"))
	}))
	defer server.Close()

	gen, _ := NewHTTPGenerator(HTTPGeneratorConfig{URL: server.URL})
	if _, err := gen.Generate(context.Background(), map[string]interface{}{"score": 80}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
}

func TestHTTPGeneratorHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gen, _ := NewHTTPGenerator(HTTPGeneratorConfig{URL: server.URL})
	if _, err := gen.Generate(context.Background(), map[string]interface{}{"score": 80}); !errors.Is(err, ErrGenerateFailed) {
		t.Fatalf("expected generate failed, got %v", err)
	}
}

func TestGeneratorValidation(t *testing.T) {
	if _, err := NewHTTPGenerator(HTTPGeneratorConfig{}); !errors.Is(err, ErrGeneratorNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	gen, _ := NewHTTPGenerator(HTTPGeneratorConfig{URL: "http://127.0.0.1:1"})
	if _, err := gen.Generate(context.Background(), nil); !errors.Is(err, ErrAnalysisDataEmpty) {
		t.Fatalf("expected empty analysis error, got %v", err)
	}
}
