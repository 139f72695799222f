package llm

import "fmt"

// ExtractJSON returns the first balanced top-level JSON object found in a
// model response. Models routinely wrap JSON in prose or code fences, so a
// plain json.Unmarshal on the raw response is not reliable.
func ExtractJSON(response string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no JSON object found in response")
}
