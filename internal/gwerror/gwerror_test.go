package gwerror

import (
	"errors"
	"testing"
)

func TestHTTPStatusTable(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, 404},
		{KindBadRequest, 400},
		{KindUnauthorized, 401},
		{KindForbidden, 403},
		{KindConflict, 409},
		{KindRateLimited, 429},
		{KindConcurrencyLimited, 503},
		{KindUpstreamTimeout, 504},
		{KindUpstreamUnavailable, 502},
		{KindInternal, 500},
	}
	for _, c := range cases {
		if got := c.kind.HTTPStatus(); got != c.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestAsWrapsUnclassifiedError(t *testing.T) {
	ge := As(errNotAGatewayError)
	if ge.Kind != KindInternal {
		t.Errorf("expected KindInternal for an unclassified error, got %s", ge.Kind)
	}
}

func TestAsPassesThroughGatewayError(t *testing.T) {
	original := BadRequest("bad input")
	ge := As(original)
	if ge != original {
		t.Error("As should return the same *Error instance unchanged")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errNotAGatewayError
	wrapped := Wrap(KindInternal, "wrapping", cause)
	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the original cause")
	}
}

var errNotAGatewayError = errors.New("some stdlib error")
