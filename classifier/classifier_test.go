package classifier

import (
	"strings"
	"testing"
)

func TestParseCandidates(t *testing.T) {
	response := `Here is what I noticed.

<memorables>
- user lives in Lisbon
* user prefers short answers
-
none
Nothing Notable
- has two cats
</memorables>

Anything else?`

	got := ParseCandidates(response)
	want := []string{"user lives in Lisbon", "user prefers short answers", "has two cats"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseCandidatesMissingBlock(t *testing.T) {
	if got := ParseCandidates("no block here"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestParseCandidatesEmptyBlock(t *testing.T) {
	if got := ParseCandidates("<memorables>\n</memorables>"); len(got) != 0 {
		t.Errorf("expected no candidates, got %v", got)
	}
	if got := ParseCandidates("<memorables>\nnone\n</memorables>"); len(got) != 0 {
		t.Errorf("expected an explicit none to yield no candidates, got %v", got)
	}
}

func TestBuildPromptIncludesPriorNotes(t *testing.T) {
	prompt := BuildPrompt("User: hello", []string{"likes tea"})
	if !strings.Contains(prompt, "Earlier notes:") {
		t.Error("expected the prior-notes header")
	}
	if !strings.Contains(prompt, "- likes tea") {
		t.Error("expected the prior note rendered as a bullet")
	}
	if !strings.Contains(prompt, "User: hello") {
		t.Error("expected the snippet in the prompt")
	}

	prompt = BuildPrompt("User: hello", nil)
	if strings.Contains(prompt, "Earlier notes:") {
		t.Error("expected no prior-notes header without prior notes")
	}
}
