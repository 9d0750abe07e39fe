package bucket

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticSetURIsSubstitutesChunkKey(t *testing.T) {
	s, err := NewStaticSet(2, []string{
		"https://b0.example/%s",
		"https://b1.example/%s",
		"https://b2.example/%s",
	})
	if err != nil {
		t.Fatalf("NewStaticSet: %v", err)
	}
	if s.N() != 3 || s.K() != 2 {
		t.Fatalf("N()=%d K()=%d, want 3, 2", s.N(), s.K())
	}

	var name [32]byte
	name[0] = 0xDE
	name[1] = 0xAD
	uris := s.URIs(name)
	if len(uris) != 3 {
		t.Fatalf("len(URIs) = %d, want 3", len(uris))
	}
	want := "https://b0.example/" + ChunkKey(name)
	if uris[0] != want {
		t.Errorf("uris[0] = %q, want %q", uris[0], want)
	}
}

func TestNewStaticSetRejectsInvalidK(t *testing.T) {
	if _, err := NewStaticSet(0, []string{"%s"}); err == nil {
		t.Error("expected error for k=0")
	}
	if _, err := NewStaticSet(2, []string{"%s"}); err == nil {
		t.Error("expected error for k > n")
	}
	if _, err := NewStaticSet(1, nil); err == nil {
		t.Error("expected error for no templates")
	}
}

func TestHTTPTransportPutGetRoundTrip(t *testing.T) {
	var stored string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored = string(body)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			io.WriteString(w, stored)
		}
	}))
	defer srv.Close()

	transport := NewHTTPTransport(nil)
	ctx := context.Background()

	if err := transport.Put(ctx, srv.URL, strings.NewReader("shard-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := transport.Get(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "shard-bytes" {
		t.Fatalf("got %q, want %q", got, "shard-bytes")
	}
}

func TestHTTPTransportPutRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := NewHTTPTransport(nil)
	if err := transport.Put(context.Background(), srv.URL, strings.NewReader("x")); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHealthExcludedSetReturnsExactCount(t *testing.T) {
	h := NewHealth(5)
	h.RecordFailure(2)
	h.RecordFailure(2)
	h.RecordFailure(2)

	rng := rand.New(rand.NewSource(1))
	excluded, err := h.ExcludedSet(2, rng)
	if err != nil {
		t.Fatalf("ExcludedSet: %v", err)
	}
	if len(excluded) != 2 {
		t.Fatalf("len(excluded) = %d, want 2", len(excluded))
	}
}

func TestHealthExcludedSetRejectsOutOfRangeCount(t *testing.T) {
	h := NewHealth(3)
	rng := rand.New(rand.NewSource(1))
	if _, err := h.ExcludedSet(4, rng); err == nil {
		t.Error("expected error for count > n")
	}
	if _, err := h.ExcludedSet(-1, rng); err == nil {
		t.Error("expected error for negative count")
	}
}

func TestHealthRecordSuccessResetsStreak(t *testing.T) {
	h := NewHealth(2)
	h.RecordFailure(0)
	h.RecordFailure(0)
	h.RecordSuccess(0)
	if h.failures[0] != 0 {
		t.Errorf("failures[0] = %d, want 0 after RecordSuccess", h.failures[0])
	}
}
