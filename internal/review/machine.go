// Package review records review-state transitions for an article's topics.
//
// Every transition goes through Machine.AddState, which keeps each topic's
// history ordered: exactly one state is current, states are superseded by
// later states of equal or higher sequence, and nothing past "published"
// exists without a published state before it.
package review

import (
	"errors"
	"fmt"
	"time"

	"litreview/internal/model"
	"litreview/internal/taxonomy"
)

const (
	StateOnAgenda           = "on_agenda"
	StateFinalBoardDecision = "final_board_decision"
)

var (
	ErrUnknownState         = errors.New("unknown state")
	ErrUnknownTopic         = errors.New("unknown topic")
	ErrAnnotationNotAllowed = errors.New("annotation not allowed for state")
	ErrUnknownTag           = errors.New("unknown tag")
	ErrTagPlacement         = errors.New("tag not allowed here")
)

// Transition describes one requested state change.
type Transition struct {
	Value   string
	Topic   int
	User    string
	Entered time.Time
	Cycle   string
	Comment string
}

// Machine applies transitions using a fixed vocabulary.
type Machine struct {
	vocab     *taxonomy.Vocabulary
	published taxonomy.StateValue
	now       func() time.Time
}

func NewMachine(vocab *taxonomy.Vocabulary) *Machine {
	return &Machine{vocab: vocab, published: vocab.Published(), now: time.Now}
}

// AddState appends a new current state to the article's topic, creating
// the topic association if needed. The article itself is not saved.
func (m *Machine) AddState(a *model.Article, tr Transition) (*model.State, error) {
	value, ok := m.vocab.State(tr.Value)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownState, tr.Value)
	}
	topic, ok := m.vocab.Topic(tr.Topic)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownTopic, tr.Topic)
	}
	entered := tr.Entered
	if entered.IsZero() {
		entered = m.now()
	}

	at := a.Topic(tr.Topic)
	if at == nil {
		cycle := tr.Cycle
		if cycle == "" {
			cycle = model.NextCycle(entered)
		}
		at = &model.ArticleTopic{Topic: tr.Topic, Cycle: cycle}
		a.Topics = append(a.Topics, at)
	}

	needPublished := value.Sequence > m.published.Sequence
	for _, s := range at.States {
		if m.sequence(s.Value) >= m.published.Sequence {
			needPublished = false
			break
		}
	}

	var added []*model.State
	if needPublished {
		p := m.newState(taxonomy.PublishedState, topic, tr.User, entered)
		p.Current = false
		p.AddComment(tr.User, entered, fmt.Sprintf(
			"Published state added as a result of setting the state for this article/topic to %s", tr.Value))
		added = append(added, p)
	}

	state := m.newState(tr.Value, topic, tr.User, entered)
	if tr.Comment != "" {
		state.AddComment(tr.User, entered, tr.Comment)
	}

	// Decide what the new state supersedes before touching anything.
	prior := append(append([]*model.State{}, at.States...), added...)
	superseded := supersededBy(prior, value.Sequence, m.sequence)
	note := fmt.Sprintf("State inactivated by setting '%s' at %s", tr.Value, entered.Format(time.DateTime))
	for _, s := range prior {
		s.Current = false
	}
	for _, s := range superseded {
		s.Active = false
		s.AddComment(tr.User, entered, note)
	}

	at.States = append(at.States, added...)
	at.States = append(at.States, state)
	return state, nil
}

// supersededBy returns the active states whose sequence does not exceed seq.
func supersededBy(states []*model.State, seq int, sequence func(string) int) []*model.State {
	var out []*model.State
	for _, s := range states {
		if s.Active && sequence(s.Value) <= seq {
			out = append(out, s)
		}
	}
	return out
}

func (m *Machine) newState(value string, topic taxonomy.Topic, user string, entered time.Time) *model.State {
	return &model.State{
		Value:   value,
		Board:   topic.Board,
		Topic:   topic.ID,
		User:    user,
		Entered: entered,
		Active:  true,
		Current: true,
	}
}

// sequence of a stored state value; values no longer in the vocabulary
// sort before everything else.
func (m *Machine) sequence(textID string) int {
	if v, ok := m.vocab.State(textID); ok {
		return v.Sequence
	}
	return -1
}

// AttachMeeting records the meeting an on-agenda state is scheduled for.
func (m *Machine) AttachMeeting(s *model.State, meeting int) error {
	if s.Value != StateOnAgenda {
		return fmt.Errorf("%w '%s': meeting", ErrAnnotationNotAllowed, s.Value)
	}
	s.Meetings = append(s.Meetings, meeting)
	return nil
}

// AttachDecision records a board decision and who made it.
func (m *Machine) AttachDecision(s *model.State, d model.Decision, deciders ...string) error {
	if s.Value != StateFinalBoardDecision {
		return fmt.Errorf("%w '%s': decision", ErrAnnotationNotAllowed, s.Value)
	}
	s.Decisions = append(s.Decisions, d)
	s.Deciders = append(s.Deciders, deciders...)
	return nil
}

// AddTag attaches a vocabulary tag to the article, or to its topic when
// topic is not zero, honoring the tag's topic rules.
func (m *Machine) AddTag(a *model.Article, textID string, topic int, user string, when time.Time, comment string) (*model.Tag, error) {
	term, ok := m.vocab.Tag(textID)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownTag, textID)
	}
	if topic != 0 && !term.TopicAllowed {
		return nil, fmt.Errorf("%w: '%s' cannot be assigned to a topic", ErrTagPlacement, textID)
	}
	if topic == 0 && term.TopicRequired {
		return nil, fmt.Errorf("%w: '%s' requires a topic", ErrTagPlacement, textID)
	}
	return a.AddTag(textID, topic, user, when, comment)
}
