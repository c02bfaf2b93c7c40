package rag

import (
	"strings"
)

// luceneReplacer strips the characters Lucene treats as query syntax.
var luceneReplacer = strings.NewReplacer(
	"\\", " ", "+", " ", "-", " ", "&&", " ", "||", " ", "!", " ",
	"(", " ", ")", " ", "{", " ", "}", " ", "[", " ", "]", " ",
	"^", " ", "\"", " ", "~", " ", "*", " ", "?", " ", ":", " ", "/", " ",
)

// redisearchReplacer strips RediSearch query syntax, a superset of Lucene's.
var redisearchReplacer = strings.NewReplacer(
	"\\", " ", "+", " ", "-", " ", "&", " ", "|", " ", "!", " ",
	"(", " ", ")", " ", "{", " ", "}", " ", "[", " ", "]", " ",
	"^", " ", "\"", " ", "'", " ", "~", " ", "*", " ", "?", " ",
	":", " ", "/", " ", "%", " ", "@", " ", "$", " ", "=", " ",
	"<", " ", ">", " ", ",", " ", ".", " ", ";", " ",
)

// RemoveLuceneChars replaces Lucene reserved characters with spaces and trims
// the result.
func RemoveLuceneChars(text string) string {
	return strings.TrimSpace(luceneReplacer.Replace(text))
}

// FulltextQuery builds a Lucene fuzzy query where every token allows up to
// two edits and tokens are joined with AND:
//
//	FulltextQuery("Jane Doe") == "Jane~2 AND Doe~2"
//
// An empty result means the text has no searchable terms.
func FulltextQuery(text string) string {
	words := strings.Fields(RemoveLuceneChars(text))
	for i, w := range words {
		words[i] = w + "~2"
	}
	return strings.Join(words, " AND ")
}

// RediSearchQuery builds the RediSearch equivalent of FulltextQuery used by
// FalkorDB: every token is wrapped in %% (Levenshtein distance 2) and the
// implicit intersection of space-separated terms replaces AND.
func RediSearchQuery(text string) string {
	words := strings.Fields(strings.TrimSpace(redisearchReplacer.Replace(text)))
	for i, w := range words {
		words[i] = "%%" + w + "%%"
	}
	return strings.Join(words, " ")
}

// BuildFulltextQuery returns the fuzzy query for the given dialect, or
// ErrNoSearchTerms when nothing searchable remains.
func BuildFulltextQuery(d Dialect, text string) (string, error) {
	var q string
	if d == DialectFalkorDB {
		q = RediSearchQuery(text)
	} else {
		q = FulltextQuery(text)
	}
	if q == "" {
		return "", ErrNoSearchTerms
	}
	return q, nil
}
