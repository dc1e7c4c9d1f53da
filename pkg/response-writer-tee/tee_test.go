package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTeeWritesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("Content-Type", "text/html")
	rs.WriteHeader(http.StatusCreated)
	rs.Write([]byte("hello"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("Status is %d", rr.Code)
	}
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "hello" {
		t.Fatalf("Body is %s", body)
	}
	if string(rs.Body()) != "hello" {
		t.Fatalf("Saved body is %s", rs.Body())
	}
	if rr.Header().Get("Content-Type") != "text/html" {
		t.Fatalf("Content-Type is %s", rr.Header().Get("Content-Type"))
	}
}

func TestBufferedUntilFlush(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Write([]byte("page"))
	rs.Header().Set("X-Late", "1")

	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
	rr := httptest.NewRecorder()
	if err := rs.Flush(rr); err != nil {
		t.Fatal(err)
	}
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "page" {
		t.Fatalf("Body is %s", body)
	}
	if rr.Header().Get("X-Late") != "1" {
		t.Fatal("Header set before flush was not sent")
	}
}

func TestDefaultStatus(t *testing.T) {
	rs := NewResponseSaver(nil)
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
	rs.WriteHeader(http.StatusNotFound)
	rs.WriteHeader(http.StatusOK)
	if rs.StatusCode() != http.StatusNotFound {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
}
