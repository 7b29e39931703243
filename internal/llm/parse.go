package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformedAdvice reports a reply that cannot be interpreted as a
// JSON advice object.
var ErrMalformedAdvice = errors.New("malformed advice payload")

type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ParseAdvice extracts the advice object from a raw endpoint response.
// It accepts an OpenAI-style chat envelope whose message content holds
// the object, or the bare object itself.
func ParseAdvice(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrMalformedAdvice
	}

	var env chatEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil && len(env.Choices) > 0 {
		return parseObject(env.Choices[0].Message.Content)
	}

	return parseObject(trimmed)
}

func parseObject(s string) (map[string]any, error) {
	s = stripFences(strings.TrimSpace(s))

	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, ErrMalformedAdvice
	}
	return m, nil
}

// stripFences removes a markdown code fence wrapped around a payload.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
