// Package pubmed talks to NLM's E-utilities: chunked efetch requests,
// splitting of the returned article set, and parsing of single
// PubmedArticle documents into articles.
package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultURL       = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"
	DefaultChunkSize = 100
	DefaultPause     = 500 * time.Millisecond
	DefaultTimeout   = 2 * time.Minute
)

var (
	eFetchResult = regexp.MustCompile(`(?smU)<eFetchResult.*>(?P<result>.*)</eFetchResult>`)
	errMsg       = regexp.MustCompile(`(?smU)<ERROR>(?P<msg>.*)</ERROR>`)
	articleSet   = regexp.MustCompile(`(?m)<!DOCTYPE PubmedArticleSet`)
)

type ErrorKind string

const (
	ErrConnect   ErrorKind = "connect"
	ErrTransport ErrorKind = "transport"
	ErrEnvelope  ErrorKind = "envelope"
	ErrEmpty     ErrorKind = "empty"
)

// FetchError is a failed efetch request. Its message is what ends up on
// the batch report.
type FetchError struct {
	Kind   ErrorKind
	Code   int
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case ErrConnect:
		return "Unable to connect to NLM: " + e.Detail
	case ErrTransport:
		return "Unable to retrieve data from NLM: " + e.Detail
	default:
		return fmt.Sprintf("Request error returned by NLM (HTTP CODE %d): %s", e.Code, e.Detail)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client fetches PubMed records. It is not safe to share one Client
// between batches running at the same time; NLM expects a pause between
// requests from the same caller.
type Client struct {
	url       string
	apiKey    string
	http      *http.Client
	chunkSize int
	pause     time.Duration
	sleep     func(context.Context, time.Duration)
	logger    *zap.Logger
}

type Option func(*Client)

func WithURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.url = u
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout replaces the HTTP client with one using timeout d.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithPause(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.pause = d
		}
	}
}

// WithSleeper replaces the blocking pause, mostly for tests.
func WithSleeper(fn func(context.Context, time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:       DefaultURL,
		http:      &http.Client{Timeout: DefaultTimeout},
		chunkSize: DefaultChunkSize,
		pause:     DefaultPause,
		sleep:     sleepContext,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ChunkSize() int {
	return c.chunkSize
}

// Chunks partitions ids into slices of at most the chunk size.
func (c *Client) Chunks(ids []string) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += c.chunkSize {
		end := min(start+c.chunkSize, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// FetchAll requests ids chunk by chunk and hands each chunk's documents to
// handle. It pauses between requests and stops at the first chunk that
// fails, returning that chunk's *FetchError.
func (c *Client) FetchAll(ctx context.Context, ids []string, handle func(chunk, docs []string)) error {
	chunks := c.Chunks(ids)
	for i, chunk := range chunks {
		body, err := c.Fetch(ctx, chunk)
		if err != nil {
			return err
		}
		handle(chunk, Split(body))
		if i < len(chunks)-1 {
			c.sleep(ctx, c.pause)
		}
	}
	return nil
}

// Fetch issues one efetch request and returns the raw response body.
func (c *Client) Fetch(ctx context.Context, ids []string) (string, error) {
	form := url.Values{}
	form.Set("db", "pubmed")
	form.Set("rettype", "medline")
	form.Set("retmode", "xml")
	form.Set("id", strings.Join(ids, ","))
	if c.apiKey != "" {
		form.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return "", c.fail(&FetchError{Kind: ErrConnect, Detail: err.Error(), Err: err})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.fail(&FetchError{Kind: ErrTransport, Detail: err.Error(), Err: err})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(&FetchError{Kind: ErrTransport, Code: resp.StatusCode, Detail: err.Error(), Err: err})
	}
	body := string(raw)
	if strings.TrimSpace(body) == "" {
		return "", c.fail(&FetchError{Kind: ErrTransport, Code: resp.StatusCode, Detail: "empty response"})
	}

	if m := eFetchResult.FindStringSubmatch(body); m != nil {
		text := strings.TrimSpace(m[eFetchResult.SubexpIndex("result")])
		if e := errMsg.FindStringSubmatch(text); e != nil {
			text = strings.TrimSpace(e[errMsg.SubexpIndex("msg")])
		}
		if text != "" {
			return body, c.fail(&FetchError{Kind: ErrEnvelope, Code: resp.StatusCode, Detail: text})
		}
	} else if !articleSet.MatchString(body) {
		return body, c.fail(&FetchError{Kind: ErrEmpty, Code: resp.StatusCode, Detail: body})
	}

	c.logger.Debug("Fetched records", zap.Int("requested", len(ids)), zap.Int("bytes", len(raw)))
	return body, nil
}

type journalSet struct {
	Articles []struct {
		JournalID string `xml:"MedlineCitation>MedlineJournalInfo>NlmUniqueID"`
	} `xml:"PubmedArticle"`
}

// FetchJournalID looks up the NLM journal id of a single article. An empty
// id with a nil error means PubMed returned no such article.
func (c *Client) FetchJournalID(ctx context.Context, pmid string) (string, error) {
	body, err := c.Fetch(ctx, []string{pmid})
	c.sleep(ctx, c.pause)
	if err != nil {
		return "", err
	}
	var set journalSet
	if err := xml.Unmarshal([]byte(body), &set); err != nil {
		return "", fmt.Errorf("parse journal lookup for %s: %w", pmid, err)
	}
	if len(set.Articles) == 0 {
		return "", nil
	}
	return strings.TrimSpace(set.Articles[0].JournalID), nil
}

func (c *Client) fail(err *FetchError) *FetchError {
	c.logger.Error("PubMed request failed", zap.String("kind", string(err.Kind)), zap.Error(err))
	return err
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
