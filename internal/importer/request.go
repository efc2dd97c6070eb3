package importer

import (
	"fmt"
	"strconv"
	"strings"

	"litreview/internal/model"
)

// PlacementBMA means "use the board manager action in BMADisposition".
const PlacementBMA = "bma"

// Request is one import invocation.
type Request struct {
	ArticleIDs []string `json:"article_ids"`
	Topic      int      `json:"topic,omitempty"`
	Cycle      string   `json:"cycle,omitempty"`
	User       string   `json:"user"`
	ImportType string   `json:"import_type,omitempty"`
	Comment    string   `json:"comment,omitempty"`

	// Test runs fetch, parse and classify, but never write anything.
	Test            bool `json:"test,omitempty"`
	OverrideNotList bool `json:"override_not_list,omitempty"`

	SpecialSearch bool `json:"special_search,omitempty"`
	HighPriority  bool `json:"high_priority,omitempty"`
	CoreJournals  bool `json:"core_journals,omitempty"`

	FastTrack        bool   `json:"fast_track,omitempty"`
	FastTrackComment string `json:"fast_track_comment,omitempty"`
	Placement        string `json:"placement,omitempty"`
	BMADisposition   string `json:"bma_disposition,omitempty"`
	Meeting          int    `json:"meeting,omitempty"`
	Decision         string `json:"decision,omitempty"`

	TopicComment    string   `json:"topic_comment,omitempty"`
	InternalTags    []string `json:"internal_tags,omitempty"`
	InternalComment string   `json:"internal_comment,omitempty"`

	FullTextFile string `json:"full_text_file,omitempty"`
	FullTextURL  string `json:"full_text_url,omitempty"`

	QueueFollowup bool `json:"queue_followup,omitempty"`
}

// RequestFromFollowup rebuilds an import request from a queued follow-up.
func RequestFromFollowup(f model.FollowupRequest) Request {
	return Request{
		ArticleIDs: f.ArticleIDs,
		Topic:      f.Topic,
		Cycle:      f.Cycle,
		User:       f.User,
		ImportType: f.ImportType,
		Comment:    f.Comment,

		OverrideNotList: f.OverrideNotList,
		CoreJournals:    f.CoreJournals,
	}
}

// placement resolves the state a fast-tracked article is moved to.
func (r Request) placement() string {
	if r.Placement == PlacementBMA {
		return r.BMADisposition
	}
	return r.Placement
}

// ValidationError is a request the importer refuses to run.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// uniqueIDs canonicalizes PubMed ids numerically ("007" and "7" are the
// same article) and drops repeats, keeping first-seen order.
func uniqueIDs(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		n, err := strconv.ParseUint(r, 10, 64)
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("Invalid PubMed ID %q.", r), Err: err}
		}
		id := strconv.FormatUint(n, 10)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
