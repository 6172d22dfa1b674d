package utils

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ComputeThreadID derives a stable thread identifier for a message.
//
// When the message carries a References or In-Reply-To chain the id is
// anchored on the root message id of that chain, so every reply in the
// conversation maps to the same thread regardless of sync order. Without a
// chain it falls back to a hash of the normalized subject plus the
// participant set; both inputs are stable across re-syncs.
func ComputeThreadID(messageID, inReplyTo, references, subject string, participants []string) string {
	if root := threadRoot(inReplyTo, references); root != "" {
		return hashThreadKey("ref:" + root)
	}

	normalized := NormalizeEmailSubject(subject)
	set := make([]string, 0, len(participants))
	for _, p := range participants {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			set = append(set, p)
		}
	}
	sort.Strings(set)

	return hashThreadKey("subj:" + normalized + "|" + strings.Join(set, ","))
}

// threadRoot picks the oldest ancestor: the first entry of References, or
// the In-Reply-To target when References is absent.
func threadRoot(inReplyTo, references string) string {
	if refs := SplitReferences(references); len(refs) > 0 {
		return refs[0]
	}
	return NormalizeMessageID(inReplyTo)
}

func hashThreadKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("thr_%x", sum[:12])
}
