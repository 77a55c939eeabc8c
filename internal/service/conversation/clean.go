package conversation

import "strings"

const sectionDelimiter = "***"

// CleanReply reduces a reply to the titles of its "***"-separated sections:
// each section keeps only the text before its first colon, trimmed, and the
// titles are joined with no separator. A reply with neither delimiter nor
// colon comes back unchanged apart from surrounding whitespace. The result
// may be empty; this never fails.
func CleanReply(text string) string {
	var b strings.Builder
	for _, section := range strings.Split(text, sectionDelimiter) {
		title, _, _ := strings.Cut(section, ":")
		b.WriteString(strings.TrimSpace(title))
	}
	return b.String()
}
