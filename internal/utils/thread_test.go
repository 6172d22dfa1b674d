package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeThreadID_ReferencesChain(t *testing.T) {
	// Arrange
	root := "<root@example.com>"
	reply1 := ComputeThreadID("<r1@example.com>", root, root, "Re: hello", []string{"a@x.com", "b@y.com"})
	reply2 := ComputeThreadID("<r2@example.com>", "<r1@example.com>", root+" <r1@example.com>", "Re: Re: hello", []string{"b@y.com", "a@x.com"})

	// Assert: both replies anchor on the chain root
	assert.Equal(t, reply1, reply2)
}

func TestComputeThreadID_InReplyToFallback(t *testing.T) {
	withRefs := ComputeThreadID("<m2@x>", "<m1@x>", "<m1@x>", "anything", nil)
	withInReplyToOnly := ComputeThreadID("<m3@x>", "<m1@x>", "", "something else", nil)

	assert.Equal(t, withRefs, withInReplyToOnly)
}

func TestComputeThreadID_SubjectFallback(t *testing.T) {
	a := ComputeThreadID("<a@x>", "", "", "Quarterly report", []string{"Alice@corp.com", "bob@corp.com"})
	b := ComputeThreadID("<b@x>", "", "", "RE: Quarterly   report", []string{"bob@corp.com", "alice@corp.com"})
	c := ComputeThreadID("<c@x>", "", "", "Quarterly report", []string{"carol@corp.com"})

	assert.Equal(t, a, b, "prefix stripping, whitespace and participant order must not matter")
	assert.NotEqual(t, a, c, "different participant sets are different threads")
}

func TestComputeThreadID_StableAcrossResync(t *testing.T) {
	first := ComputeThreadID("<m@x>", "", "", "Fwd: [2]: notes", []string{"p@q.com"})
	second := ComputeThreadID("<m@x>", "", "", "Fwd: [2]: notes", []string{"p@q.com"})

	assert.Equal(t, first, second)
	assert.Contains(t, first, "thr_")
}

func TestNormalizeEmailSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Re: hello", "hello"},
		{"RE: Re: hello", "hello"},
		{"Fwd: meeting notes", "meeting notes"},
		{"Fw[2]: meeting notes", "meeting notes"},
		{"  Weekly   Sync  ", "weekly sync"},
		{"REPLY: not a prefix", "reply: not a prefix"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEmailSubject(tt.in), "subject %q", tt.in)
	}
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "abc@x.com", NormalizeMessageID(" <abc@x.com> "))
	assert.Equal(t, "abc@x.com", NormalizeMessageID("abc@x.com"))
}

func TestSplitReferences(t *testing.T) {
	refs := SplitReferences("<a@x> <b@y>\t<c@z>")
	assert.Equal(t, []string{"a@x", "b@y", "c@z"}, refs)

	assert.Nil(t, SplitReferences(""))
}
