// Package termextract asks hosted models to pick out jargon from meeting
// transcript text. Replies are returned raw; the caller parses them.
package termextract

import (
	"fmt"
	"strings"
)

const systemPrompt = `You help meeting participants follow specialist vocabulary.
From the transcript excerpt, pick the technical terms, acronyms and product names a
non-expert might not know. Reply with a JSON array only, no prose and no code fence:
[{"term": "...", "description": "one short sentence"}]
Reply with [] when nothing qualifies. Never repeat a term from the already explained list.`

// buildPrompt returns the system instruction and the user message.
func buildPrompt(text string, explained []string) (string, string) {
	var b strings.Builder
	if len(explained) > 0 {
		fmt.Fprintf(&b, "Already explained: %s\n\n", strings.Join(explained, ", "))
	}
	b.WriteString("Transcript:\n")
	b.WriteString(strings.TrimSpace(text))
	return systemPrompt, b.String()
}
