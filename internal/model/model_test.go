package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var when = time.Date(2024, 12, 3, 8, 0, 0, 0, time.UTC)

func stored() *Article {
	return &Article{
		ID:       9,
		Source:   SourcePubmed,
		SourceID: "100",
		Title:    "Old title",
		Year:     2023,
		Authors: []Author{
			{LastName: "Smith", Initials: "J", DisplayName: "Smith J", SearchName: "Smith J"},
		},
		LastAuthorName: "Smith J",
		Abstract:       []AbstractParagraph{{Text: "Background."}},
		PubDate:        PubDate{Year: "2023"},
		Types:          []string{"Journal Article"},
	}
}

func TestRefresh_Unchanged(t *testing.T) {
	a := stored()
	fresh := stored()
	fresh.ID = 0
	fresh.CommentsCorrections = []string{"200"}

	assert.False(t, a.Refresh(fresh, when))
	assert.Nil(t, a.UpdateDate)
	assert.Equal(t, []string{"200"}, a.CommentsCorrections, "cross references are always taken")
}

func TestRefresh_GroupsReplacedAsAUnit(t *testing.T) {
	a := stored()
	fresh := stored()
	fresh.Title = "New title"
	fresh.SearchTitle = "New title"
	fresh.Authors = append(fresh.Authors, Author{CollectiveName: "Study Group", DisplayName: "Study Group", SearchName: "Study Group"})
	fresh.LastAuthorName = "Study Group"
	fresh.PubDate = PubDate{Year: "2023", Month: "Mar"}

	require.True(t, a.Refresh(fresh, when))
	assert.Equal(t, "New title", a.SearchTitle)
	assert.Len(t, a.Authors, 2)
	assert.Equal(t, "Study Group", a.LastAuthorName)
	assert.Equal(t, "Mar", a.PubDate.Month)
	require.NotNil(t, a.UpdateDate)
	assert.Equal(t, when, *a.UpdateDate)
	assert.Equal(t, int64(9), a.ID)
}

func TestRefresh_AuthorSubfield(t *testing.T) {
	a := stored()
	fresh := stored()
	fresh.Authors[0].Initials = "JA"
	assert.True(t, a.Refresh(fresh, when))
	assert.Equal(t, "JA", a.Authors[0].Initials)
}

func TestBatch_CountsUniqueIDs(t *testing.T) {
	b := NewBatch(when)
	assert.True(t, b.Success)

	b.AddAction("1", DispositionImported, 5, "")
	b.AddAction("1", DispositionReviewReady, 5, "")
	b.AddAction("2", DispositionDuplicate, 6, "")
	b.AddAction("1", DispositionError, 0, "again")
	assert.Equal(t, 2, b.ArticleCount)
	assert.Equal(t, map[string]int{
		DispositionImported: 1, DispositionReviewReady: 1, DispositionDuplicate: 1, DispositionError: 1,
	}, b.Counts())
	assert.Len(t, b.ActionsFor("1"), 3)

	b.AddMessage("Error parsing article XML: bad")
	assert.True(t, b.Success, "record problems keep the batch successful")
	b.AddErrorMessage("Unable to connect to NLM: refused")
	assert.False(t, b.Success)
	assert.Len(t, b.Messages, 2)
}

func TestArticle_Tags(t *testing.T) {
	a := stored()
	_, err := a.AddTag("high_priority", 0, "u", when, "")
	require.NoError(t, err)
	assert.Len(t, a.Tags, 1)

	_, err = a.AddTag("high_priority", 7, "u", when, "")
	assert.EqualError(t, err, "topic 7 not assigned to article 9")

	a.Topics = []*ArticleTopic{{Topic: 7, Cycle: "2025-01-01"}}
	tag, err := a.AddTag("i_fasttrack", 7, "u", when, "why")
	require.NoError(t, err)
	assert.True(t, tag.Active)
	assert.Equal(t, "why", a.Topic(7).Tags[0].Comments[0].Body)

	assert.True(t, a.AddInternalTags([]string{"x", "y", "x"}, when))
	assert.False(t, a.AddInternalTags([]string{"y"}, when))
	assert.Len(t, a.InternalTags, 2)
}

func TestCurrentState(t *testing.T) {
	a := stored()
	assert.Nil(t, a.CurrentState(0))
	assert.Nil(t, a.CurrentState(7))

	a.Topics = []*ArticleTopic{{Topic: 7, States: []*State{
		{Value: "ready_init_review"},
		{Value: "published", Current: true},
	}}}
	assert.Equal(t, "published", a.CurrentState(7).Value)
}

func TestCycles(t *testing.T) {
	assert.Equal(t, "2025-01-01", NextCycle(when))
	assert.Equal(t, "2024-07-01", NextCycle(time.Date(2024, 6, 30, 23, 0, 0, 0, time.UTC)))

	c, err := ParseCycle("2024-07-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-01", c)
	_, err = ParseCycle("07/2024")
	assert.Error(t, err)
}
