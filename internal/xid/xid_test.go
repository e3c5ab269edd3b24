package xid

import (
	"strings"
	"testing"
)

func TestNewUsesPrefix(t *testing.T) {
	id := New("tx")
	if !strings.HasPrefix(id, "tx-") {
		t.Fatalf("expected tx- prefix, got %s", id)
	}
	if New("tx") == id {
		t.Fatalf("expected distinct ids")
	}
}

func TestInvoiceShape(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		code, err := Invoice()
		if err != nil {
			t.Fatalf("invoice: %v", err)
		}
		if len(code) != invoiceLength {
			t.Fatalf("expected %d chars, got %q", invoiceLength, code)
		}
		for _, r := range code {
			if !strings.ContainsRune(invoiceAlphabet, r) {
				t.Fatalf("unexpected rune %q in %s", r, code)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 199 {
		t.Fatalf("too many collisions: %d unique of 200", len(seen))
	}
}
