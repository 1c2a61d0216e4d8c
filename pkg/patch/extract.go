package patch

import "strings"

// ExtractScript pulls a shell script out of an LLM response. The response may
// be prose around a fenced block, a fenced block alone, or a bare script.
// Fence preference: ```bash, then ```sh, then any ```; otherwise the stripped
// response is taken verbatim.
func ExtractScript(response string) string {
	for _, fence := range []string{"```bash", "```sh", "```"} {
		if body, ok := between(response, fence); ok {
			return strings.TrimSpace(body)
		}
	}
	return strings.TrimSpace(response)
}

func between(s, fence string) (string, bool) {
	start := strings.Index(s, fence)
	if start == -1 {
		return "", false
	}
	start += len(fence)
	end := strings.Index(s[start:], "```")
	if end == -1 {
		return "", false
	}
	return s[start : start+end], true
}
