package review

import (
	"errors"
	"strings"
	"testing"
	"time"

	"litreview/internal/model"
	"litreview/internal/taxonomy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMachine(t *testing.T) *Machine {
	t.Helper()
	vocab, err := taxonomy.Parse([]byte(`
boards:
  - { id: 3, name: Adult Treatment }
topics:
  - { id: 7, name: Lung Cancer, board: 3 }
  - { id: 8, name: Skin Cancer, board: 3 }
`))
	require.NoError(t, err)
	return NewMachine(vocab)
}

var entered = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func currentCount(at *model.ArticleTopic) int {
	n := 0
	for _, s := range at.States {
		if s.Current {
			n++
		}
	}
	return n
}

func TestAddState_CreatesTopicWithDefaultCycle(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{ID: 1}

	s, err := m.AddState(a, Transition{Value: "ready_init_review", Topic: 7, User: "importer", Entered: entered})
	require.NoError(t, err)

	at := a.Topic(7)
	require.NotNil(t, at)
	assert.Equal(t, "2024-06-01", at.Cycle)
	assert.Equal(t, 3, s.Board, "board comes from the topic")
	assert.True(t, s.Current)
	assert.True(t, s.Active)
	assert.Same(t, s, a.CurrentState(7))
}

func TestAddState_KeepsSuppliedCycle(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	_, err := m.AddState(a, Transition{Value: "ready_init_review", Topic: 7, Entered: entered, Cycle: "2024-09-01"})
	require.NoError(t, err)
	assert.Equal(t, "2024-09-01", a.Topic(7).Cycle)
}

func TestAddState_SingleCurrent(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	for _, v := range []string{"ready_init_review", "published", "passed_bm_review", "reject_init_review", "on_agenda"} {
		_, err := m.AddState(a, Transition{Value: v, Topic: 7, Entered: entered})
		require.NoError(t, err)
		assert.Equal(t, 1, currentCount(a.Topic(7)), "after %s", v)
	}
	assert.Equal(t, "on_agenda", a.CurrentState(7).Value)
}

func TestAddState_SupersessionIsMonotonic(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	low, err := m.AddState(a, Transition{Value: "ready_init_review", Topic: 7, Entered: entered})
	require.NoError(t, err)
	high, err := m.AddState(a, Transition{Value: "published", Topic: 7, Entered: entered.Add(time.Hour)})
	require.NoError(t, err)

	assert.False(t, low.Active, "later sequence supersedes earlier")
	require.Len(t, low.Comments, 1)
	assert.True(t, strings.HasPrefix(low.Comments[0].Body, "State inactivated by setting 'published' at 2024-05-17 10:30:00"))

	again, err := m.AddState(a, Transition{Value: "ready_init_review", Topic: 7, Entered: entered.Add(2 * time.Hour)})
	require.NoError(t, err)

	assert.True(t, high.Active, "an earlier sequence never deactivates a later state")
	assert.False(t, high.Current)
	assert.False(t, low.Active, "nothing is reactivated")
	assert.True(t, again.Current)
}

func TestAddState_EqualSequenceSupersedes(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	passed, err := m.AddState(a, Transition{Value: "passed_bm_review", Topic: 7, Entered: entered})
	require.NoError(t, err)
	_, err = m.AddState(a, Transition{Value: "reject_bm_review", Topic: 7, Entered: entered})
	require.NoError(t, err)

	assert.False(t, passed.Active)
}

func TestAddState_SynthesizesPublished(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	_, err := m.AddState(a, Transition{Value: "ready_init_review", Topic: 7, Entered: entered})
	require.NoError(t, err)
	s, err := m.AddState(a, Transition{Value: "passed_full_review", Topic: 7, User: "bm", Entered: entered, Comment: "looks good"})
	require.NoError(t, err)

	states := a.Topic(7).States
	require.Len(t, states, 3)
	published := states[1]
	assert.Equal(t, "published", published.Value)
	assert.False(t, published.Current)
	assert.False(t, published.Active, "superseded by the requested state")
	assert.Equal(t, "Published state added as a result of setting the state for this article/topic to passed_full_review",
		published.Comments[0].Body)

	assert.Same(t, s, states[2])
	assert.Equal(t, []model.Comment{{User: "bm", Entered: entered, Body: "looks good"}}, s.Comments)
	assert.Equal(t, 1, currentCount(a.Topic(7)))
}

func TestAddState_LaterStateSatisfiesPublished(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	_, err := m.AddState(a, Transition{Value: "passed_bm_review", Topic: 7, Entered: entered})
	require.NoError(t, err)
	require.Len(t, a.Topic(7).States, 2)

	_, err = m.AddState(a, Transition{Value: "on_agenda", Topic: 7, Entered: entered})
	require.NoError(t, err)
	assert.Len(t, a.Topic(7).States, 3, "no second published state")
}

func TestAddState_NoPublishedForEarlyStates(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	_, err := m.AddState(a, Transition{Value: "reject_journal_title", Topic: 7, Entered: entered})
	require.NoError(t, err)
	assert.Len(t, a.Topic(7).States, 1)
}

func TestAddState_TopicsAreIndependent(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	first, err := m.AddState(a, Transition{Value: "ready_init_review", Topic: 7, Entered: entered})
	require.NoError(t, err)
	_, err = m.AddState(a, Transition{Value: "published", Topic: 8, Entered: entered})
	require.NoError(t, err)

	assert.True(t, first.Current)
	assert.True(t, first.Active)
	assert.Len(t, a.Topics, 2)
}

func TestAddState_Errors(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	_, err := m.AddState(a, Transition{Value: "nope", Topic: 7})
	assert.True(t, errors.Is(err, ErrUnknownState))
	assert.Contains(t, err.Error(), "'nope'")

	_, err = m.AddState(a, Transition{Value: "published", Topic: 99})
	assert.True(t, errors.Is(err, ErrUnknownTopic))
	assert.Empty(t, a.Topics, "failed calls change nothing")
}

func TestAnnotations(t *testing.T) {
	m := testMachine(t)
	a := &model.Article{}

	agenda, err := m.AddState(a, Transition{Value: StateOnAgenda, Topic: 7, Entered: entered})
	require.NoError(t, err)
	require.NoError(t, m.AttachMeeting(agenda, 12))
	assert.Equal(t, []int{12}, agenda.Meetings)
	assert.ErrorIs(t, m.AttachDecision(agenda, model.Decision{Decision: "cited"}), ErrAnnotationNotAllowed)

	decided, err := m.AddState(a, Transition{Value: StateFinalBoardDecision, Topic: 7, Entered: entered})
	require.NoError(t, err)
	d := model.Decision{Decision: "cited", MeetingDate: "2024-06-01"}
	require.NoError(t, m.AttachDecision(decided, d, "chair"))
	assert.Equal(t, []model.Decision{d}, decided.Decisions)
	assert.Equal(t, []string{"chair"}, decided.Deciders)
	assert.ErrorIs(t, m.AttachMeeting(decided, 1), ErrAnnotationNotAllowed)
}

func TestAddTag_FollowsVocabulary(t *testing.T) {
	vocab, err := taxonomy.Parse([]byte(`
tags:
  - { text_id: high_priority, name: High priority, topic_allowed: true }
  - { text_id: legacy_flag, name: Legacy flag }
  - { text_id: board_pick, name: Board pick, topic_allowed: true, topic_required: true }
boards:
  - { id: 3, name: Adult Treatment }
topics:
  - { id: 7, name: Lung Cancer, board: 3 }
`))
	require.NoError(t, err)
	m := NewMachine(vocab)
	a := &model.Article{ID: 4, Topics: []*model.ArticleTopic{{Topic: 7}}}

	_, err = m.AddTag(a, "mystery", 0, "u", entered, "")
	assert.True(t, errors.Is(err, ErrUnknownTag))

	_, err = m.AddTag(a, "board_pick", 0, "u", entered, "")
	assert.True(t, errors.Is(err, ErrTagPlacement), "topic required")

	_, err = m.AddTag(a, "legacy_flag", 7, "u", entered, "")
	assert.True(t, errors.Is(err, ErrTagPlacement), "topic not allowed")
	assert.Empty(t, a.Tags)
	assert.Empty(t, a.Topic(7).Tags)

	tag, err := m.AddTag(a, "board_pick", 7, "u", entered, "strong evidence")
	require.NoError(t, err)
	assert.Equal(t, "board_pick", tag.TextID)
	assert.Len(t, a.Topic(7).Tags, 1)

	_, err = m.AddTag(a, "legacy_flag", 0, "u", entered, "")
	require.NoError(t, err)
	_, err = m.AddTag(a, "high_priority", 0, "u", entered, "")
	require.NoError(t, err)
	assert.Len(t, a.Tags, 2)
}
