package pubmed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const setHeader = `<?xml version="1.0" ?>
<!DOCTYPE PubmedArticleSet PUBLIC "-//NLM//DTD PubMedArticle, 1st January 2024//EN" "https://dtd.nlm.nih.gov/ncbi/pubmed/out/pubmed_240101.dtd">
<PubmedArticleSet>
`

func articleXML(pmid, journal string) string {
	return fmt.Sprintf(`<PubmedArticle><MedlineCitation Status="MEDLINE"><PMID Version="1">%s</PMID>`+
		`<Article><Journal><Title>J</Title></Journal><ArticleTitle>Article %s</ArticleTitle></Article>`+
		`<MedlineJournalInfo><MedlineTA>J</MedlineTA><NlmUniqueID>%s</NlmUniqueID></MedlineJournalInfo>`+
		`</MedlineCitation></PubmedArticle>`, pmid, pmid, journal)
}

// recorder captures the id lists of every efetch request.
type recorder struct {
	mu       sync.Mutex
	requests [][]string
}

func (r *recorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		assert.Equal(t, "pubmed", req.PostForm.Get("db"))
		assert.Equal(t, "xml", req.PostForm.Get("retmode"))
		ids := strings.Split(req.PostForm.Get("id"), ",")

		r.mu.Lock()
		r.requests = append(r.requests, ids)
		r.mu.Unlock()

		var b strings.Builder
		b.WriteString(setHeader)
		for _, id := range ids {
			b.WriteString(articleXML(id, "0404511"))
		}
		b.WriteString("</PubmedArticleSet>")
		fmt.Fprint(w, b.String())
	}
}

func TestFetchAll_Chunking(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	var pauses []time.Duration
	c := NewClient(zap.NewNop(),
		WithURL(srv.URL),
		WithChunkSize(3),
		WithSleeper(func(_ context.Context, d time.Duration) { pauses = append(pauses, d) }),
	)

	ids := []string{"1", "2", "3", "4", "5", "6", "7"}
	var got []string
	err := c.FetchAll(context.Background(), ids, func(chunk, docs []string) {
		assert.Len(t, docs, len(chunk))
		got = append(got, chunk...)
	})
	require.NoError(t, err)

	// ceil(7/3) requests, at most 3 ids each, a pause between each pair.
	require.Len(t, rec.requests, 3)
	for _, r := range rec.requests {
		assert.LessOrEqual(t, len(r), 3)
	}
	assert.Equal(t, []string{"7"}, rec.requests[2])
	assert.Equal(t, []time.Duration{DefaultPause, DefaultPause}, pauses)
	assert.Equal(t, ids, got)
}

func TestFetch_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `<?xml version="1.0" ?>
<eFetchResult>
	<ERROR>ID list is empty! Possibly it has no correct IDs.</ERROR>
</eFetchResult>`)
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), WithURL(srv.URL))
	_, err := c.Fetch(context.Background(), []string{"x"})
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrEnvelope, fe.Kind)
	assert.Equal(t, "Request error returned by NLM (HTTP CODE 400): ID list is empty! Possibly it has no correct IDs.", err.Error())
}

func TestFetch_NotAnArticleSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"API rate limit exceeded"}`)
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), WithURL(srv.URL))
	_, err := c.Fetch(context.Background(), []string{"1"})

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrEmpty, fe.Kind)
	assert.Equal(t, 429, fe.Code)
	assert.Contains(t, err.Error(), "API rate limit exceeded")
}

func TestFetch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(zap.NewNop(), WithURL(srv.URL))
	_, err := c.Fetch(context.Background(), []string{"1"})

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrTransport, fe.Kind)
	assert.True(t, strings.HasPrefix(err.Error(), "Unable to retrieve data from NLM: "))
}

func TestFetchAll_StopsAtFailedChunk(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			fmt.Fprint(w, "<eFetchResult><ERROR>backend down</ERROR></eFetchResult>")
			return
		}
		fmt.Fprint(w, setHeader+articleXML("1", "J1")+"</PubmedArticleSet>")
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), WithURL(srv.URL), WithChunkSize(1), WithPause(0))
	handled := 0
	err := c.FetchAll(context.Background(), []string{"1", "2", "3"}, func(_, _ []string) { handled++ })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, handled)
}

func TestFetchJournalID(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	paused := 0
	c := NewClient(zap.NewNop(), WithURL(srv.URL),
		WithSleeper(func(context.Context, time.Duration) { paused++ }))

	journal, err := c.FetchJournalID(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "0404511", journal)
	assert.Equal(t, 1, paused)
	assert.Equal(t, [][]string{{"42"}}, rec.requests)
}
