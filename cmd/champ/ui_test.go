package main

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatMoney(t *testing.T) {
	tests := map[string]string{
		"0":           "0.00",
		"999.5":       "999.50",
		"1234567.891": "1,234,567.89",
		"-100000":     "-100,000.00",
	}
	for in, want := range tests {
		if got := formatMoney(decimal.RequireFromString(in)); got != want {
			t.Fatalf("formatMoney(%s)=%q want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Spring Invitational Cup", 10); got != "Spring ..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
}
