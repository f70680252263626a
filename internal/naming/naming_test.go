package naming

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledNamerReturnsEmpty(t *testing.T) {
	n := New(Config{}, nil)
	if n.Enabled() {
		t.Fatal("expected disabled namer")
	}
	if got := n.Name("s1", "hello there"); got != "" {
		t.Fatalf("Name() = %q, want empty", got)
	}
}

func TestNamerPostsPromptAndReturnsTitle(t *testing.T) {
	var gotBody namingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(namingResponse{Title: "Fix the login bug"})
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL, Model: "local-model"}, nil)
	got := n.Name("s1", "please help me fix the login bug")
	if got != "Fix the login bug" {
		t.Fatalf("Name() = %q", got)
	}
	if gotBody.Model != "local-model" {
		t.Fatalf("model = %q", gotBody.Model)
	}
}

func TestNamerSwallowsEndpointErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Config{URL: srv.URL}, nil)
	if got := n.Name("s1", "hi"); got != "" {
		t.Fatalf("Name() = %q, want empty on error", got)
	}
}
