package rag

import "strings"

// DocumentMarker prefixes every unstructured passage in a context block.
const DocumentMarker = "- Document "

// ComposeContext fuses graph triples and retrieved passages into the context
// block handed to the model. Passages are kept in order, each on its own
// line behind DocumentMarker. Nothing is truncated.
func ComposeContext(structured string, passages []string) string {
	var b strings.Builder
	b.WriteString("Structured data:\n")
	b.WriteString(structured)
	b.WriteString("\nUnstructured data:\n")
	for i, p := range passages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(DocumentMarker)
		b.WriteString(p)
	}
	return b.String()
}
