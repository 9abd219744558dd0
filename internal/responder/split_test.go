package responder

import "testing"

func TestFindSplitPoint_PrefersParagraphBreak(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph that keeps going well past the limit"
	idx := findSplitPoint(text, 40)
	if idx == 0 {
		t.Fatal("expected a split point")
	}
	if text[:idx] != "first paragraph here.\n\n" {
		t.Fatalf("expected split at paragraph break, got segment %q", text[:idx])
	}
}

func TestFindSplitPoint_FallsBackToHardLimit(t *testing.T) {
	text := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	idx := findSplitPoint(text, 20)
	if idx != 20 {
		t.Fatalf("expected hard split at 20, got %d", idx)
	}
}

func TestScanFenceState_DetectsOpenFence(t *testing.T) {
	segment := "here is some code:\n```go\nfunc main() {\n"
	lang := scanFenceState(segment, "")
	if lang != "go" {
		t.Fatalf("expected open language 'go', got %q", lang)
	}
}

func TestScanFenceState_NoOpenFence(t *testing.T) {
	segment := "plain text with no code block"
	lang := scanFenceState(segment, "")
	if lang != "" {
		t.Fatalf("expected no open fence, got %q", lang)
	}
}

func TestScanFenceState_ClosesCarriedFence(t *testing.T) {
	segment := "more code\nfunc helper() {}\n```\nplain text after"
	lang := scanFenceState(segment, "go")
	if lang != "" {
		t.Fatalf("expected carried fence closed by the ``` marker, got %q", lang)
	}
}

func TestScanFenceState_StillOpenWhenCarriedAndNoClose(t *testing.T) {
	segment := "more code\nfunc helper() {}\n"
	lang := scanFenceState(segment, "go")
	if lang != "go" {
		t.Fatalf("expected carried language 'go' to remain open, got %q", lang)
	}
}
