package pubmed

import "strings"

const (
	articleOpen  = "<PubmedArticle>"
	articleClose = "</PubmedArticle>"
)

// Split cuts a PubmedArticleSet response into one document per article.
// Large responses are scanned as text instead of being decoded whole; each
// piece is parsed on its own afterwards. An unterminated trailing article is
// dropped.
func Split(response string) []string {
	var docs []string
	start := strings.Index(response, articleOpen)
	for start >= 0 {
		end := strings.Index(response[start:], articleClose)
		if end < 0 {
			break
		}
		end += start + len(articleClose)
		docs = append(docs, response[start:end])
		next := strings.Index(response[end:], articleOpen)
		if next < 0 {
			break
		}
		start = end + next
	}
	return docs
}
