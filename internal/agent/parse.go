package agent

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/LEO0072003/VoiceAI/internal/llm"
)

// Some models write tool calls into the message text instead of the
// structured field. These are the shapes seen in the wild.
var inlineCallPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<function=(\w+)>(\{[^}]+\})</function>`),
	regexp.MustCompile(`<function=(\w+)=?(\{[^}]+\})>?`),
	regexp.MustCompile(`<function=(\w+)(\{[^}]+\})>?`),
}

var inlineCallMarkup = regexp.MustCompile(`<function=\w+[=>]?\{[^}]+\}>?(?:</function>)?`)

// ParseInlineToolCalls extracts textual tool calls from content and returns
// the content with the markup removed. Calls are returned in order of first
// appearance, de-duplicated by name and arguments. Calls whose arguments are
// not a JSON object are skipped.
func ParseInlineToolCalls(content string) (string, []llm.ToolCall) {
	if !strings.Contains(content, "<function=") {
		return content, nil
	}

	type found struct {
		pos  int
		name string
		args map[string]any
	}
	var matches []found
	for _, pattern := range inlineCallPatterns {
		for _, idx := range pattern.FindAllStringSubmatchIndex(content, -1) {
			args := map[string]any{}
			if err := json.Unmarshal([]byte(content[idx[4]:idx[5]]), &args); err != nil {
				continue
			}
			matches = append(matches, found{pos: idx[0], name: content[idx[2]:idx[3]], args: args})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	seen := make(map[string]struct{}, len(matches))
	calls := make([]llm.ToolCall, 0, len(matches))
	for _, m := range matches {
		canonical, _ := json.Marshal(m.args)
		key := m.name + "\x00" + string(canonical)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		calls = append(calls, llm.ToolCall{
			ID:        "call_" + uuid.NewString()[:8],
			Name:      m.name,
			Arguments: m.args,
		})
	}

	clean := strings.TrimSpace(inlineCallMarkup.ReplaceAllString(content, ""))
	if len(calls) == 0 {
		return content, nil
	}
	return clean, calls
}
