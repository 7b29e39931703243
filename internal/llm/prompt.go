package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a debugging assistant. Reply with a single JSON object " +
	"describing the likely cause of the reported error and concrete steps to fix it."

// bytesPerToken is the rough bytes-per-token ratio used to size prompts.
const bytesPerToken = 4

// BuildPrompt renders an error report into the user prompt. The message
// and call context are always included whole; stack frames are appended
// until the token budget is reached, with a note for what was dropped.
func BuildPrompt(message, callContext string, stack []string, tokenBudget int) string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(message)
	b.WriteString("\n")
	if callContext != "" {
		b.WriteString("Context: ")
		b.WriteString(callContext)
		b.WriteString("\n")
	}

	if len(stack) == 0 {
		return b.String()
	}
	b.WriteString("Stack:\n")

	limit := 0
	if tokenBudget > 0 {
		limit = tokenBudget * bytesPerToken
	}

	included := 0
	for _, frame := range stack {
		if limit > 0 && b.Len()+len(frame)+1 > limit {
			break
		}
		b.WriteString(frame)
		b.WriteString("\n")
		included++
	}
	if omitted := len(stack) - included; omitted > 0 {
		fmt.Fprintf(&b, "... %d more frames omitted\n", omitted)
	}
	return b.String()
}
