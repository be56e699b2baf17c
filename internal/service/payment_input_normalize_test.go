package service

import (
	"regexp"
	"testing"
	"time"

	"github.com/cvlens-pay/internal/constants"

	"github.com/shopspring/decimal"
)

func TestNormalizePaymentInputAliases(t *testing.T) {
	tests := []struct {
		name       string
		raw        map[string]interface{}
		wantOrder  string
		wantAmount string
		wantName   string
		wantEmail  string
		wantPhone  string
		wantMethod string
	}{
		{
			name: "camel_case_en",
			raw: map[string]interface{}{
				"orderId":       "CV-1",
				"amount":        29.9,
				"customerName":  "Ana Silva",
				"customerEmail": "Ana@Example.com",
				"customerPhone": "912345678",
				"paymentMethod": "MBWAY",
			},
			wantOrder: "CV-1", wantAmount: "29.90", wantName: "Ana Silva", wantEmail: "ana@example.com",
			wantPhone: "351912345678", wantMethod: constants.PaymentMethodMBWay,
		},
		{
			name: "portuguese_snake_case",
			raw: map[string]interface{}{
				"numero_pedido":    "PED-77",
				"valor":            "19,99 €",
				"nome":             "João",
				"e-mail":           "joao@example.pt",
				"telemovel":        "96 123 4567",
				"metodo_pagamento": "Referência Multibanco",
			},
			wantOrder: "PED-77", wantAmount: "19.99", wantName: "João", wantEmail: "joao@example.pt",
			wantPhone: "351961234567", wantMethod: constants.PaymentMethodMultibanco,
		},
		{
			name: "upper_case_keys_and_kebab",
			raw: map[string]interface{}{
				" ORDER-ID ":     "X1",
				"TOTAL":          "1.234,50",
				"FULL-NAME":      "Rui",
				"EMAIL":          "rui@example.com",
				"PHONE-NUMBER":   "+44 7700 900123",
				"PAYMENT-METHOD": "payshop",
			},
			wantOrder: "X1", wantAmount: "1234.50", wantName: "Rui", wantEmail: "rui@example.com",
			wantPhone: "447700900123", wantMethod: constants.PaymentMethodPayshop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePaymentInput(tt.raw)
			if got.OrderID != tt.wantOrder {
				t.Fatalf("order id: got %q want %q", got.OrderID, tt.wantOrder)
			}
			if got.Amount.String() != tt.wantAmount {
				t.Fatalf("amount: got %s want %s", got.Amount.String(), tt.wantAmount)
			}
			if got.CustomerName != tt.wantName || got.CustomerEmail != tt.wantEmail {
				t.Fatalf("customer: got %q/%q", got.CustomerName, got.CustomerEmail)
			}
			if got.CustomerPhone != tt.wantPhone {
				t.Fatalf("phone: got %q want %q", got.CustomerPhone, tt.wantPhone)
			}
			if got.PaymentMethod != tt.wantMethod {
				t.Fatalf("method: got %q want %q", got.PaymentMethod, tt.wantMethod)
			}
			if got.AmountFallback || got.MethodDefaulted || got.OrderIDGenerated {
				t.Fatalf("unexpected flags: %+v", got)
			}
			if len(got.Warnings) != 0 {
				t.Fatalf("unexpected warnings: %v", got.Warnings)
			}
		})
	}
}

func TestNormalizePaymentInputAliasOrderWins(t *testing.T) {
	got := NormalizePaymentInput(map[string]interface{}{
		"email":         "second@example.com",
		"customerEmail": "first@example.com",
	})
	if got.CustomerEmail != "first@example.com" {
		t.Fatalf("earlier alias should win, got %s", got.CustomerEmail)
	}
}

func TestNormalizePaymentInputHeuristicKeys(t *testing.T) {
	got := NormalizePaymentInput(map[string]interface{}{
		"numero_do_pedido_loja": "HEUR-1",
		"valor_a_pagar":         "12.5",
		"contact_mobile_pt":     "932222333",
		"user_mail_address":     "h@example.com",
		"primeiro_nome":         "Marta",
	})
	if got.OrderID != "HEUR-1" {
		t.Fatalf("order id heuristic failed: %q", got.OrderID)
	}
	if got.Amount.String() != "12.50" {
		t.Fatalf("amount heuristic failed: %s", got.Amount.String())
	}
	if got.CustomerPhone != "351932222333" {
		t.Fatalf("phone heuristic failed: %q", got.CustomerPhone)
	}
	if got.CustomerEmail != "h@example.com" || got.CustomerName != "Marta" {
		t.Fatalf("customer heuristic failed: %q/%q", got.CustomerEmail, got.CustomerName)
	}
	if len(got.Warnings) < 5 {
		t.Fatalf("heuristic matches must be reported as warnings: %v", got.Warnings)
	}
}

func TestNormalizePaymentInputDefaults(t *testing.T) {
	normalizer := NewPaymentInputNormalizer(decimal.RequireFromString("25"), "Relatório")
	normalizer.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 5, 0, time.UTC) }

	got := normalizer.Normalize(map[string]interface{}{"amount": "abc"})
	if !got.AmountFallback || got.Amount.String() != "25.00" {
		t.Fatalf("fallback amount not applied: %+v", got)
	}
	if !got.MethodDefaulted || got.PaymentMethod != constants.PaymentMethodMBWay {
		t.Fatalf("method should default to mbway: %+v", got)
	}
	if !got.OrderIDGenerated || !regexp.MustCompile(`^CV20261018093005\d{4}$`).MatchString(got.OrderID) {
		t.Fatalf("unexpected generated order id: %s", got.OrderID)
	}
	if got.Description != "Relatório" {
		t.Fatalf("default description not applied: %q", got.Description)
	}

	subCent := normalizer.Normalize(map[string]interface{}{"amount": "0.004"})
	if !subCent.AmountFallback || subCent.Amount.String() != "25.00" {
		t.Fatalf("sub-cent amount must fall back: %+v", subCent)
	}
}

func TestNormalizePaymentInputAnalysisData(t *testing.T) {
	got := NormalizePaymentInput(map[string]interface{}{
		"orderId":       "A1",
		"amount":        10,
		"analysis":      `{"score":77,"skills":["go"]}`,
		"paymentMethod": "multibanco",
	})
	if got.AnalysisData["score"] != float64(77) {
		t.Fatalf("analysis data not decoded: %+v", got.AnalysisData)
	}

	nested := NormalizePaymentInput(map[string]interface{}{
		"cvAnalysis": map[string]interface{}{"score": 50},
	})
	if nested.AnalysisData["score"] != 50 {
		t.Fatalf("analysis map not kept: %+v", nested.AnalysisData)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"912345678":         "351912345678",
		"926 000 111":       "351926000111",
		"931-000-111":       "351931000111",
		"961234567":         "351961234567",
		"941234567":         "941234567",
		"212345678":         "212345678",
		"+351 912 345 678":  "351912345678",
		"00351912345678":    "00351912345678",
		"(+44) 7700-900123": "447700900123",
		"":                  "",
	}
	for input, want := range cases {
		if got := NormalizePhone(input); got != want {
			t.Fatalf("NormalizePhone(%q)=%q want %q", input, got, want)
		}
	}
}

func TestNormalizePaymentMethod(t *testing.T) {
	cases := []struct {
		input         string
		want          string
		wantDefaulted bool
	}{
		{"mbway", constants.PaymentMethodMBWay, false},
		{"MB WAY", constants.PaymentMethodMBWay, false},
		{"push", constants.PaymentMethodMBWay, false},
		{"Multibanco", constants.PaymentMethodMultibanco, false},
		{"ATM", constants.PaymentMethodMultibanco, false},
		{"pagamento por referencia", constants.PaymentMethodMultibanco, false},
		{"payshop reference", constants.PaymentMethodPayshop, false},
		{"terminal", constants.PaymentMethodPayshop, false},
		{"pay-shop", constants.PaymentMethodPayshop, false},
		{"mb", constants.PaymentMethodMBWay, false},
		{"wayyy", constants.PaymentMethodMBWay, false},
		{"bancomulti", constants.PaymentMethodMultibanco, false},
		{"bitcoin", constants.PaymentMethodMBWay, true},
		{"", constants.PaymentMethodMBWay, true},
	}
	for _, tc := range cases {
		got, defaulted := NormalizePaymentMethod(tc.input)
		if got != tc.want || defaulted != tc.wantDefaulted {
			t.Fatalf("NormalizePaymentMethod(%q)=(%s,%v) want (%s,%v)", tc.input, got, defaulted, tc.want, tc.wantDefaulted)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		input interface{}
		want  string
		ok    bool
	}{
		{"29.90", "29.9", true},
		{"29,90", "29.9", true},
		{"€ 15", "15", true},
		{"15 EUR", "15", true},
		{"1.234,56", "1234.56", true},
		{"1,234.56", "1234.56", true},
		{12.345, "12.35", true},
		{7, "7", true},
		{"0", "0", false},
		{"0.004", "0", false},
		{0.001, "0", false},
		{"0,003 €", "0", false},
		{"0.005", "0.01", true},
		{"-3", "0", false},
		{"abc", "0", false},
		{nil, "0", false},
	}
	for _, tc := range cases {
		got, ok := ParseAmount(tc.input)
		if ok != tc.ok {
			t.Fatalf("ParseAmount(%v) ok=%v want %v", tc.input, ok, tc.ok)
		}
		if ok && !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("ParseAmount(%v)=%s want %s", tc.input, got.String(), tc.want)
		}
	}
}
