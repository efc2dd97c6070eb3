package model

import (
	"time"

	"github.com/google/uuid"
)

// Disposition text ids recorded on import actions.
const (
	DispositionImported    = "imported"
	DispositionReviewReady = "review_ready"
	DispositionNotListed   = "not_listed"
	DispositionDuplicate   = "duplicate"
	DispositionTopicAdded  = "topic_added"
	DispositionReplaced    = "replaced"
	DispositionError       = "error"
)

// Import type codes.
const (
	ImportRegular     = "R"
	ImportFastTrack   = "F"
	ImportSpecial     = "S"
	ImportDataRefresh = "D"
	ImportInternal    = "I"
)

// Action records what happened to one source id within a batch.
type Action struct {
	SourceID    string `json:"source_id"`
	Disposition string `json:"disposition"`
	ArticleID   int64  `json:"article_id,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Batch is the report of one import job.
type Batch struct {
	ID           uuid.UUID `json:"id"`
	Topic        int       `json:"topic,omitempty"`
	Board        int       `json:"board,omitempty"`
	Source       string    `json:"source"`
	Imported     time.Time `json:"imported"`
	Cycle        string    `json:"cycle,omitempty"`
	User         string    `json:"user"`
	NotList      bool      `json:"not_list"`
	ImportType   string    `json:"import_type"`
	ArticleCount int       `json:"article_count"`
	Comment      string    `json:"comment,omitempty"`
	Messages     []string  `json:"messages,omitempty"`
	Success      bool      `json:"success"`
	Actions      []Action  `json:"actions"`
	Followup     []string  `json:"followup,omitempty"`
	Test         bool      `json:"test"`

	uniqueIDs map[string]struct{}
}

// NewBatch starts an empty, successful batch.
func NewBatch(now time.Time) *Batch {
	return &Batch{
		ID:        uuid.New(),
		Source:    SourcePubmed,
		Imported:  now,
		Success:   true,
		Actions:   []Action{},
		uniqueIDs: make(map[string]struct{}),
	}
}

// AddAction appends an action. ArticleCount counts each source id once no
// matter how many actions it collects.
func (b *Batch) AddAction(sourceID, disposition string, articleID int64, message string) {
	if b.uniqueIDs == nil {
		b.uniqueIDs = make(map[string]struct{})
	}
	b.uniqueIDs[sourceID] = struct{}{}
	b.ArticleCount = len(b.uniqueIDs)
	b.Actions = append(b.Actions, Action{
		SourceID:    sourceID,
		Disposition: disposition,
		ArticleID:   articleID,
		Message:     message,
	})
}

// AddMessage records a batch-level problem that leaves the batch usable,
// such as a record that could not be parsed.
func (b *Batch) AddMessage(message string) {
	b.Messages = append(b.Messages, message)
}

// AddErrorMessage records a transport-level failure and marks the batch
// unsuccessful.
func (b *Batch) AddErrorMessage(message string) {
	b.Messages = append(b.Messages, message)
	b.Success = false
}

// Counts groups the actions by disposition.
func (b *Batch) Counts() map[string]int {
	counts := make(map[string]int)
	for _, a := range b.Actions {
		counts[a.Disposition]++
	}
	return counts
}

// ActionsFor returns the actions recorded for one source id, in order.
func (b *Batch) ActionsFor(sourceID string) []Action {
	var out []Action
	for _, a := range b.Actions {
		if a.SourceID == sourceID {
			out = append(out, a)
		}
	}
	return out
}
