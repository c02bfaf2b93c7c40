package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestComposeContext(t *testing.T) {
	out := ComposeContext("A - KNOWS -> B", []string{"p1", "p2"})

	assert.Equal(t, "Structured data:\nA - KNOWS -> B\nUnstructured data:\n- Document p1\n- Document p2", out)

	structured := strings.Index(out, "Structured data:")
	unstructured := strings.Index(out, "Unstructured data:")
	assert.True(t, structured >= 0 && structured < unstructured)
	assert.Contains(t, out, "- Document p1")
	assert.Contains(t, out, "- Document p2")
}

func TestComposeContext_EmptyStructured(t *testing.T) {
	out := ComposeContext("", []string{"p1", "p2"})
	assert.True(t, strings.HasPrefix(out, "Structured data:\n\nUnstructured data:\n"))
	assert.Equal(t, 2, strings.Count(out, DocumentMarker))
}

func TestComposeContext_NoPassages(t *testing.T) {
	assert.Equal(t, "Structured data:\nX\nUnstructured data:\n", ComposeContext("X", nil))
}

func TestComposeContext_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		structured := rapid.String().Draw(t, "structured")
		passages := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,20}`), 0, 6).Draw(t, "passages")

		out := ComposeContext(structured, passages)

		head := "Structured data:\n" + structured + "\nUnstructured data:\n"
		if !strings.HasPrefix(out, head) {
			t.Fatalf("missing sections in %q", out)
		}
		if got := strings.Count(out[len(head):], DocumentMarker); got != len(passages) {
			t.Fatalf("markers = %d, want %d", got, len(passages))
		}
		for _, p := range passages {
			if !strings.Contains(out, DocumentMarker+p) {
				t.Fatalf("passage %q not marked", p)
			}
		}
	})
}
