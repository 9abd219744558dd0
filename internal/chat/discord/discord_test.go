package discord

import "testing"

func TestSplitForDiscord_ShortContentIsOneChunk(t *testing.T) {
	chunks := splitForDiscord("hello", 2000)
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("splitForDiscord() = %v, want [\"hello\"]", chunks)
	}
}

func TestSplitForDiscord_SplitsAtNewlineNearLimit(t *testing.T) {
	first := make([]byte, 15)
	for i := range first {
		first[i] = 'a'
	}
	content := string(first) + "\n" + "rest of the message"
	chunks := splitForDiscord(content, 20)
	if len(chunks) != 2 {
		t.Fatalf("splitForDiscord() produced %d chunks, want 2: %v", len(chunks), chunks)
	}
	if chunks[0] != string(first)+"\n" {
		t.Fatalf("first chunk = %q, want split at newline", chunks[0])
	}
	if chunks[1] != "rest of the message" {
		t.Fatalf("second chunk = %q", chunks[1])
	}
}

func TestSplitForDiscord_HardCutWithoutNearbyNewline(t *testing.T) {
	content := make([]byte, 25)
	for i := range content {
		content[i] = 'x'
	}
	chunks := splitForDiscord(string(content), 10)
	if len(chunks) != 3 {
		t.Fatalf("splitForDiscord() produced %d chunks, want 3", len(chunks))
	}
	for _, c := range chunks[:len(chunks)-1] {
		if len(c) != 10 {
			t.Fatalf("chunk length = %d, want 10", len(c))
		}
	}
}
