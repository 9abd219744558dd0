package webhook

import "testing"

func TestRenderPrompt(t *testing.T) {
	payload := []byte(`{"data":{"identifier":"ENG-42","title":"Fix the thing"}}`)
	got := renderPrompt("Work on {{data.identifier}}: {{data.title}}", payload)
	want := "Work on ENG-42: Fix the thing"
	if got != want {
		t.Fatalf("renderPrompt() = %q, want %q", got, want)
	}
}

func TestRenderPrompt_UnknownPathRendersEmpty(t *testing.T) {
	got := renderPrompt("issue {{data.missing}}", []byte(`{"data":{}}`))
	if got != "issue " {
		t.Fatalf("renderPrompt() = %q, want %q", got, "issue ")
	}
}

func TestResolveSessionKey(t *testing.T) {
	payload := []byte(`{"data":{"id":"u1"}}`)
	got, ok := resolveSessionKey("data.id", payload)
	if !ok || got != "u1" {
		t.Fatalf("resolveSessionKey() = (%q, %v), want (\"u1\", true)", got, ok)
	}

	if _, ok := resolveSessionKey("", payload); ok {
		t.Fatal("resolveSessionKey() with empty path should report not found")
	}
}

func TestMatchesFilters(t *testing.T) {
	payload := []byte(`{"type":"Issue","team":{"key":"ENG"}}`)
	if !matchesFilters(map[string]string{"type": "Issue", "team.key": "ENG"}, payload) {
		t.Fatal("matchesFilters() = false, want true")
	}
	if matchesFilters(map[string]string{"type": "PullRequest"}, payload) {
		t.Fatal("matchesFilters() = true, want false")
	}
}
