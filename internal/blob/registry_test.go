package blob

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateLookupRevoke(t *testing.T) {
	r := NewRegistry(0)
	obj, url, err := r.Create("a.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(url, URLPrefix) {
		t.Errorf("url = %q", url)
	}
	got, err := r.Lookup(obj.ID)
	if err != nil || string(got.Data) != "hello" {
		t.Fatalf("Lookup = %v, %v", got, err)
	}
	if !r.Live(url) {
		t.Error("expected live url")
	}

	r.Revoke(obj.ID)
	if _, err := r.Lookup(obj.ID); !errors.Is(err, ErrRevoked) {
		t.Errorf("err = %v, want ErrRevoked", err)
	}
	if r.Live(url) {
		t.Error("revoked url reported live")
	}
	r.Revoke(obj.ID)
}

func TestRevokeAfter(t *testing.T) {
	r := NewRegistry(0)
	obj, _, _ := r.Create("a", "", strings.NewReader("x"))
	r.RevokeAfter(obj.ID, 20*time.Millisecond)
	if r.Len() != 1 {
		t.Fatal("released too early")
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Len() != 0 {
		t.Error("reference not released")
	}
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry(4)
	if _, _, err := r.Create("a", "", strings.NewReader("1234")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := r.Create("b", "", strings.NewReader("5")); err == nil {
		t.Error("expected registry full error")
	}
}

func TestCloseRevokesAll(t *testing.T) {
	r := NewRegistry(0)
	obj, _, _ := r.Create("a", "", strings.NewReader("x"))
	r.RevokeAfter(obj.ID, time.Hour)
	_, _, _ = r.Create("b", "", strings.NewReader("y"))
	r.Close()
	if r.Len() != 0 {
		t.Errorf("Len = %d after Close", r.Len())
	}
}

func TestIDFromURL(t *testing.T) {
	if id, ok := IDFromURL("/blob/abc"); !ok || id != "abc" {
		t.Errorf("IDFromURL = %q, %v", id, ok)
	}
	for _, u := range []string{"", "/blob/", "https://x/blob/abc"} {
		if _, ok := IDFromURL(u); ok {
			t.Errorf("IDFromURL(%q) should fail", u)
		}
	}
}
