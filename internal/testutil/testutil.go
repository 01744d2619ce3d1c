// Package testutil holds HTTP test helpers shared by handler and router tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func NewTestRequest(method, target string, body io.Reader) *http.Request {
	return httptest.NewRequest(method, target, body)
}

// NewTestRequestWithJSON encodes v as the request body.
func NewTestRequestWithJSON(t *testing.T, method, target string, v interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding request body: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func ParseJSONResponse(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding response %q: %v", body, err)
	}
	return out
}

func AssertStatusCode(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d (%s)", want, rr.Code, rr.Body.String())
	}
}

// AssertJSONContains compares the formatted value at key, so numbers decoded
// as float64 match their integer form.
func AssertJSONContains(t *testing.T, body []byte, key string, want interface{}) {
	t.Helper()
	got, ok := ParseJSONResponse(t, body)[key]
	if !ok {
		t.Fatalf("response %s has no key %q", body, key)
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %s=%v, got %v", key, want, got)
	}
}

// AssertErrorResponse checks the status and the {"error": message} body.
func AssertErrorResponse(t *testing.T, rr *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	AssertStatusCode(t, rr, status)
	AssertJSONContains(t, rr.Body.Bytes(), "error", message)
}

func RandomUUID() uuid.UUID {
	return uuid.New()
}

// RandomUserName returns a valid participant name unique to this run.
func RandomUserName() string {
	return "player-" + uuid.NewString()[:8]
}
