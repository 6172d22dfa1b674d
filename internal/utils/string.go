package utils

import (
	"regexp"
	"strings"
)

var subjectPrefixRegex = regexp.MustCompile(`(?i)^(Re|Fwd|Fw)(\[\d+\])?:\s*`)

// NormalizeEmailSubject removes prefixes like Re:, Fwd:, etc. from a subject
func NormalizeEmailSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for subjectPrefixRegex.MatchString(subject) {
		subject = subjectPrefixRegex.ReplaceAllString(subject, "")
		subject = strings.TrimSpace(subject)
	}
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

func NormalizeMessageID(messageID string) string {
	messageID = strings.TrimSpace(messageID)
	messageID = strings.TrimPrefix(messageID, "<")
	messageID = strings.TrimSuffix(messageID, ">")
	return messageID
}

// SplitReferences splits a References header into normalized message ids,
// oldest first, as mandated by RFC 5322 ordering.
func SplitReferences(references string) []string {
	var out []string
	for _, ref := range strings.Fields(references) {
		ref = NormalizeMessageID(ref)
		if ref != "" {
			out = append(out, ref)
		}
	}
	return out
}
