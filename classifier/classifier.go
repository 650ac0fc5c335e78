// Package classifier distills conversation snippets into candidate memory
// notes via an LLM.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/substratelabs/mnemo/stm"
)

// Classifier extracts memorable facts from a conversation snippet. prior
// carries the candidate notes already distilled from earlier turns so the
// model refines rather than repeats them.
type Classifier interface {
	Classify(ctx context.Context, snippet string, prior []string) ([]string, error)
}

// SystemPrompt instructs the model to emit candidates inside a <memorables>
// block, one bullet per fact. The fenced block keeps parsing robust against
// chatty preambles.
const SystemPrompt = `You observe a conversation between a user and an assistant. Your job is to notice facts worth remembering about the user long-term: stable preferences, biographical details, ongoing projects, commitments, and corrections of earlier notes.

Rules:
- Only include facts stated or clearly implied in the conversation.
- Write each fact as a short, self-contained sentence.
- Do not include transient small talk, pleasantries, or the assistant's own suggestions.
- If earlier notes are provided, refine them: keep what still holds, drop what was corrected, and add what is new.
- If nothing is worth remembering, write "none".

Respond with ONLY a <memorables> block:
<memorables>
- fact one
- fact two
</memorables>`

// BuildPrompt assembles the user-role prompt from the rendered snippet and
// any prior candidate notes.
func BuildPrompt(snippet string, prior []string) string {
	var sb strings.Builder
	if len(prior) > 0 {
		sb.WriteString("Earlier notes:\n")
		sb.WriteString(stm.RenderCandidates(prior))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation:\n\n")
	sb.WriteString(snippet)
	return sb.String()
}

var memorablesRe = regexp.MustCompile(`(?s)<memorables>(.*?)</memorables>`)

// ParseCandidates extracts the bulleted facts from a model response. Missing
// blocks, empty blocks, and explicit "none" answers all yield an empty slice.
func ParseCandidates(response string) []string {
	m := memorablesRe.FindStringSubmatch(response)
	if m == nil {
		return nil
	}

	var candidates []string
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "none", "nothing notable":
			continue
		}
		candidates = append(candidates, line)
	}
	return candidates
}
