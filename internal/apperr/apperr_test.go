package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrappedErrorKeepsCodeThroughFmtWrap(t *testing.T) {
	base := New(CodeOutOfStock, "not enough shampoo").With("product_id", "prd-1").With("available", 2)
	wrapped := fmt.Errorf("add line: %w", base)

	if !Is(wrapped, CodeOutOfStock) {
		t.Fatalf("expected OUT_OF_STOCK in chain")
	}
	if Is(wrapped, CodeInsufficientStock) {
		t.Fatalf("did not expect INSUFFICIENT_STOCK")
	}
	got := As(wrapped)
	if got == nil || got.Details()["available"] != 2 {
		t.Fatalf("expected details to survive wrapping, got %+v", got)
	}
}

func TestWrapExposesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(CodeGatewayError, cause, "midtrans charge failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if CodeOf(err) != CodeGatewayError {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("plain errors should map to internal")
	}
}

func TestMetadataForDomainCodes(t *testing.T) {
	cases := map[Code]int{
		CodeEmptyCart:            http.StatusUnprocessableEntity,
		CodeInsufficientStock:    http.StatusConflict,
		CodeAlreadyConverted:     http.StatusConflict,
		CodeGatewayNotConfigured: http.StatusUnprocessableEntity,
		CodeNotFound:             http.StatusNotFound,
		Code("SOMETHING_ELSE"):   http.StatusInternalServerError,
	}
	for code, status := range cases {
		if got := MetadataFor(code).HTTPStatus; got != status {
			t.Fatalf("%s: expected %d, got %d", code, status, got)
		}
	}
}
