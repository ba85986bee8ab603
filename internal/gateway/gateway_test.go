package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestWantsCamelQueryParam(t *testing.T) {
	r := httpRequestWithQuery(t, "naming=camel")
	if !wantsCamel(r) {
		t.Error("expected wantsCamel to be true for ?naming=camel")
	}
}

func TestWantsCamelHeader(t *testing.T) {
	r := httpRequestWithQuery(t, "")
	r.Header.Set("X-Response-Naming", "Camel")
	if !wantsCamel(r) {
		t.Error("expected wantsCamel to be true for the X-Response-Naming header, case-insensitively")
	}
}

func TestWantsCamelDefaultFalse(t *testing.T) {
	r := httpRequestWithQuery(t, "")
	if wantsCamel(r) {
		t.Error("expected wantsCamel to be false with neither switch set")
	}
}

func TestBodyAsMapJSONNoConversionByDefault(t *testing.T) {
	r, err := http.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"orderId":"123"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	r.Header.Set("Content-Type", "application/json")

	body, err := bodyAsMap(r, false)
	if err != nil {
		t.Fatalf("bodyAsMap: %v", err)
	}
	if _, ok := body["orderId"]; !ok {
		t.Errorf("expected key to pass through unchanged without naming=camel, got %v", body)
	}
}

func TestBodyAsMapJSONConvertsUnderCamelNaming(t *testing.T) {
	r, err := http.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"orderId":"123"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	r.Header.Set("Content-Type", "application/json")

	body, err := bodyAsMap(r, true)
	if err != nil {
		t.Fatalf("bodyAsMap: %v", err)
	}
	if _, ok := body["order_id"]; !ok {
		t.Errorf("expected camelCase key converted to snake_case, got %v", body)
	}
}

func TestBodyAsMapRejectsInvalidJSON(t *testing.T) {
	r, err := http.NewRequest(http.MethodPost, "/x", strings.NewReader(`not json`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	r.Header.Set("Content-Type", "application/json")

	if _, err := bodyAsMap(r, false); err == nil {
		t.Error("expected an error for invalid JSON body")
	}
}

func TestQueryParamsConversion(t *testing.T) {
	r := httpRequestWithQuery(t, "orderId=7")
	out := queryParams(r, true)
	vs, ok := out["order_id"]
	if !ok || len(vs) == 0 || vs[0] != "7" {
		t.Errorf("expected converted query key order_id=7, got %v", out)
	}
}

func httpRequestWithQuery(t *testing.T, rawQuery string) *http.Request {
	t.Helper()
	u := &url.URL{Path: "/x", RawQuery: rawQuery}
	return &http.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}
