// Package taxonomy holds the controlled vocabularies the importer and the
// review state machine consult: review states and their sequence numbers,
// import types, dispositions, article tags, boards, topics, journals and
// the per-board journal exclusion lists.
//
// A Vocabulary is loaded once at startup and never mutated afterwards.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PublishedState is the text id of the state every later state depends on.
const PublishedState = "published"

//go:embed default.yaml
var defaultYAML []byte

type StateValue struct {
	TextID   string `yaml:"text_id" json:"text_id"`
	Name     string `yaml:"name" json:"name"`
	Sequence int    `yaml:"sequence" json:"sequence"`
}

type ImportType struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type Disposition struct {
	ID     int    `yaml:"id"`
	TextID string `yaml:"text_id"`
	Name   string `yaml:"name"`
}

type TagTerm struct {
	TextID        string `yaml:"text_id"`
	Name          string `yaml:"name"`
	TopicAllowed  bool   `yaml:"topic_allowed"`
	TopicRequired bool   `yaml:"topic_required"`
}

type Board struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	AutoImports bool   `yaml:"auto_imports"`
}

type Topic struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Board int    `yaml:"board"`
}

// Journal is keyed by the NLM unique id.
type Journal struct {
	SourceID string `yaml:"source_id"`
	Title    string `yaml:"title"`
	Core     bool   `yaml:"core"`
}

// NotListEntry excludes a journal from a board's imports from Start on.
type NotListEntry struct {
	Board   int       `yaml:"board"`
	Journal string    `yaml:"journal"`
	Start   time.Time `yaml:"start"`
}

type document struct {
	States       []StateValue   `yaml:"states"`
	ImportTypes  []ImportType   `yaml:"import_types"`
	Dispositions []Disposition  `yaml:"dispositions"`
	Tags         []TagTerm      `yaml:"tags"`
	Boards       []Board        `yaml:"boards"`
	Topics       []Topic        `yaml:"topics"`
	Journals     []Journal      `yaml:"journals"`
	NotLists     []NotListEntry `yaml:"not_lists"`
}

// Vocabulary is the indexed, read-only form of the taxonomy document.
type Vocabulary struct {
	states       map[string]StateValue
	importTypes  map[string]ImportType
	dispositions map[string]Disposition
	tags         map[string]TagTerm
	boards       map[int]Board
	topics       map[int]Topic
	journals     map[string]Journal
	notLists     []NotListEntry
}

// Default returns the vocabulary embedded in the binary. It has no boards
// or topics, so topic-specific imports need a taxonomy file.
func Default() (*Vocabulary, error) {
	return Parse(defaultYAML)
}

// Load reads a taxonomy file. Sections missing from the file fall back to
// the embedded defaults.
func Load(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open taxonomy: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*Vocabulary, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML taxonomy document on top of the embedded defaults.
func Parse(raw []byte) (*Vocabulary, error) {
	var base document
	if err := yaml.Unmarshal(defaultYAML, &base); err != nil {
		return nil, fmt.Errorf("parse default taxonomy: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(doc.States) == 0 {
		doc.States = base.States
	}
	if len(doc.ImportTypes) == 0 {
		doc.ImportTypes = base.ImportTypes
	}
	if len(doc.Dispositions) == 0 {
		doc.Dispositions = base.Dispositions
	}
	if len(doc.Tags) == 0 {
		doc.Tags = base.Tags
	}
	return build(doc)
}

func build(doc document) (*Vocabulary, error) {
	v := &Vocabulary{
		states:       make(map[string]StateValue, len(doc.States)),
		importTypes:  make(map[string]ImportType, len(doc.ImportTypes)),
		dispositions: make(map[string]Disposition, len(doc.Dispositions)),
		tags:         make(map[string]TagTerm, len(doc.Tags)),
		boards:       make(map[int]Board, len(doc.Boards)),
		topics:       make(map[int]Topic, len(doc.Topics)),
		journals:     make(map[string]Journal, len(doc.Journals)),
		notLists:     doc.NotLists,
	}
	var errs []error
	for _, s := range doc.States {
		if _, dup := v.states[s.TextID]; dup {
			errs = append(errs, fmt.Errorf("duplicate state %q", s.TextID))
		}
		v.states[s.TextID] = s
	}
	if _, ok := v.states[PublishedState]; !ok {
		errs = append(errs, fmt.Errorf("state %q is required", PublishedState))
	}
	for _, t := range doc.ImportTypes {
		v.importTypes[t.Code] = t
	}
	for _, d := range doc.Dispositions {
		if _, dup := v.dispositions[d.TextID]; dup {
			errs = append(errs, fmt.Errorf("duplicate disposition %q", d.TextID))
		}
		v.dispositions[d.TextID] = d
	}
	for _, t := range doc.Tags {
		v.tags[t.TextID] = t
	}
	for _, b := range doc.Boards {
		v.boards[b.ID] = b
	}
	for _, t := range doc.Topics {
		if _, ok := v.boards[t.Board]; !ok {
			errs = append(errs, fmt.Errorf("topic %d references unknown board %d", t.ID, t.Board))
		}
		v.topics[t.ID] = t
	}
	for _, j := range doc.Journals {
		v.journals[j.SourceID] = j
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	return v, nil
}

func (v *Vocabulary) State(textID string) (StateValue, bool) {
	s, ok := v.states[textID]
	return s, ok
}

// Published returns the published state. Its presence is checked at load.
func (v *Vocabulary) Published() StateValue {
	return v.states[PublishedState]
}

func (v *Vocabulary) ImportType(code string) (ImportType, bool) {
	t, ok := v.importTypes[code]
	return t, ok
}

// DispositionIDs maps disposition text ids to their numeric ids.
func (v *Vocabulary) DispositionIDs() map[string]int {
	ids := make(map[string]int, len(v.dispositions))
	for k, d := range v.dispositions {
		ids[k] = d.ID
	}
	return ids
}

func (v *Vocabulary) Tag(textID string) (TagTerm, bool) {
	t, ok := v.tags[textID]
	return t, ok
}

func (v *Vocabulary) Board(id int) (Board, bool) {
	b, ok := v.boards[id]
	return b, ok
}

func (v *Vocabulary) Topic(id int) (Topic, bool) {
	t, ok := v.topics[id]
	return t, ok
}

func (v *Vocabulary) Journal(sourceID string) (Journal, bool) {
	j, ok := v.journals[sourceID]
	return j, ok
}

// CoreJournal reports whether the journal is flagged as core.
func (v *Vocabulary) CoreJournal(sourceID string) bool {
	return v.journals[sourceID].Core
}

// NotList returns the journals excluded for board as of now.
func (v *Vocabulary) NotList(board int, now time.Time) map[string]bool {
	out := make(map[string]bool)
	for _, e := range v.notLists {
		if e.Board == board && !e.Start.After(now) {
			out[e.Journal] = true
		}
	}
	return out
}
