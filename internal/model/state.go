package model

import (
	"fmt"
	"time"
)

// CycleLayout is the date layout of review cycles (always a first of month).
const CycleLayout = "2006-01-02"

// ArticleTopic associates an article with one review topic.
type ArticleTopic struct {
	Topic    int       `json:"topic"`
	Cycle    string    `json:"cycle"`
	States   []*State  `json:"states"`
	Comments []Comment `json:"comments,omitempty"`
	Tags     []Tag     `json:"tags,omitempty"`
}

// CurrentState scans from the most recent state backwards.
func (t *ArticleTopic) CurrentState() *State {
	for i := len(t.States) - 1; i >= 0; i-- {
		if t.States[i].Current {
			return t.States[i]
		}
	}
	return nil
}

func (t *ArticleTopic) AddComment(user string, when time.Time, body string) {
	t.Comments = append(t.Comments, Comment{User: user, Entered: when, Body: body})
}

type Decision struct {
	Decision    string `json:"decision"`
	MeetingDate string `json:"meeting_date"`
	Discussed   bool   `json:"discussed"`
}

// State is one step of a topic's review history for an article.
type State struct {
	Value     string     `json:"value"`
	Board     int        `json:"board"`
	Topic     int        `json:"topic"`
	User      string     `json:"user"`
	Entered   time.Time  `json:"entered"`
	Active    bool       `json:"active"`
	Current   bool       `json:"current"`
	Comments  []Comment  `json:"comments,omitempty"`
	Decisions []Decision `json:"decisions,omitempty"`
	Deciders  []string   `json:"deciders,omitempty"`
	Meetings  []int      `json:"meetings,omitempty"`
}

func (s *State) AddComment(user string, when time.Time, body string) {
	s.Comments = append(s.Comments, Comment{User: user, Entered: when, Body: body})
}

// NextCycle returns the first day of the month following t.
func NextCycle(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, 0).Format(CycleLayout)
}

// ParseCycle validates a cycle string.
func ParseCycle(s string) (string, error) {
	d, err := time.Parse(CycleLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid cycle %q: %w", s, err)
	}
	return d.Format(CycleLayout), nil
}
