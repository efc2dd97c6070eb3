package pubmed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"litreview/internal/model"
)

const searchTitleMax = 512

var (
	fourDigits    = regexp.MustCompile(`^\d{4}$`)
	yearRange     = regexp.MustCompile(`^\d{4}-(\d{4})$`)
	trailingYear  = regexp.MustCompile(`(\d{4})$`)
	dateSeparator = regexp.MustCompile(`[\s,]+`)
)

// XMLPubmedArticle is the part of a PubmedArticle document we read.
type XMLPubmedArticle struct {
	Citation *XMLCitation `xml:"MedlineCitation"`
}

type XMLCitation struct {
	Status              string          `xml:"Status,attr"`
	PMID                string          `xml:"PMID"`
	Article             *XMLArticle     `xml:"Article"`
	JournalInfo         *XMLJournalInfo `xml:"MedlineJournalInfo"`
	CommentsCorrections []struct {
		PMIDs []string `xml:"PMID"`
	} `xml:"CommentsCorrectionsList>CommentsCorrections"`
}

type XMLArticle struct {
	Journal    *XMLJournal    `xml:"Journal"`
	Title      mixedText      `xml:"ArticleTitle"`
	Pagination string         `xml:"Pagination>MedlinePgn"`
	Abstract   []XMLParagraph `xml:"Abstract>AbstractText"`
	Authors    []XMLAuthor    `xml:"AuthorList>Author"`
	Types      []string       `xml:"PublicationTypeList>PublicationType"`
}

type XMLJournal struct {
	Title string `xml:"Title"`
	Issue struct {
		Volume  string `xml:"Volume"`
		Issue   string `xml:"Issue"`
		PubDate struct {
			Year        string `xml:"Year"`
			Month       string `xml:"Month"`
			Day         string `xml:"Day"`
			Season      string `xml:"Season"`
			MedlineDate string `xml:"MedlineDate"`
		} `xml:"PubDate"`
	} `xml:"JournalIssue"`
}

type XMLJournalInfo struct {
	MedlineTA   string `xml:"MedlineTA"`
	NlmUniqueID string `xml:"NlmUniqueID"`
}

type XMLAuthor struct {
	LastName       string    `xml:"LastName"`
	ForeName       string    `xml:"ForeName"`
	Initials       string    `xml:"Initials"`
	CollectiveName mixedText `xml:"CollectiveName"`
}

// XMLParagraph is an AbstractText element; inline markup is flattened.
type XMLParagraph struct {
	Label string
	Text  string
}

func (p *XMLParagraph) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, a := range start.Attr {
		if a.Name.Local == "Label" {
			p.Label = a.Value
		}
	}
	text, err := collectText(d)
	p.Text = text
	return err
}

// mixedText keeps the character data of an element and all its children.
type mixedText string

func (m *mixedText) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	text, err := collectText(d)
	*m = mixedText(text)
	return err
}

func collectText(d *xml.Decoder) (string, error) {
	var b strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return b.String(), err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	return b.String(), nil
}

// Parse turns one PubmedArticle document into an unsaved article.
func Parse(doc string) (*model.Article, error) {
	root, err := rootElement(doc)
	if err != nil {
		return nil, fmt.Errorf("reading XML: %w", err)
	}
	if root != "PubmedArticle" {
		return nil, fmt.Errorf("Expected 'PubmedArticle' but got '%s' instead.", root)
	}

	var x XMLPubmedArticle
	if err := xml.Unmarshal([]byte(doc), &x); err != nil {
		return nil, fmt.Errorf("decoding PubmedArticle: %w", err)
	}
	citation := x.Citation
	if citation == nil {
		return nil, errors.New("MedlineCitation block not found.")
	}
	article := citation.Article
	if article == nil {
		return nil, errors.New("Article block not found.")
	}
	journal := article.Journal
	if journal == nil {
		return nil, errors.New("Journal block not found.")
	}
	info := citation.JournalInfo
	if info == nil {
		return nil, errors.New("MedlineJournalInfo block not found.")
	}

	title := strings.TrimSpace(string(article.Title))
	a := &model.Article{
		Source:            model.SourcePubmed,
		SourceID:          strings.TrimSpace(citation.PMID),
		SourceJournalID:   strings.TrimSpace(info.NlmUniqueID),
		SourceStatus:      strings.TrimSpace(citation.Status),
		Title:             title,
		SearchTitle:       truncate(Normalize(title), searchTitleMax),
		JournalTitle:      strings.TrimSpace(journal.Title),
		BriefJournalTitle: strings.TrimSpace(info.MedlineTA),
		Volume:            strings.TrimSpace(journal.Issue.Volume),
		Issue:             strings.TrimSpace(journal.Issue.Issue),
		Pagination:        strings.TrimSpace(article.Pagination),
	}
	if a.SourceID == "" {
		return nil, errors.New("Missing PMID.")
	}

	for _, xa := range article.Authors {
		author := model.Author{
			LastName:       strings.TrimSpace(xa.LastName),
			FirstName:      strings.TrimSpace(xa.ForeName),
			Initials:       strings.TrimSpace(xa.Initials),
			CollectiveName: strings.TrimSpace(string(xa.CollectiveName)),
		}
		author.DisplayName = author.LastName
		if author.Initials != "" {
			author.DisplayName += " " + author.Initials
		}
		if author.DisplayName == "" {
			author.DisplayName = author.CollectiveName
		}
		author.SearchName = Normalize(author.DisplayName)
		a.LastAuthorName = author.SearchName
		a.Authors = append(a.Authors, author)
	}

	for _, p := range article.Abstract {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		a.Abstract = append(a.Abstract, model.AbstractParagraph{
			Text:  text,
			Label: strings.TrimSpace(p.Label),
		})
	}

	pd := journal.Issue.PubDate
	a.PubDate = model.PubDate{
		Year:        strings.TrimSpace(pd.Year),
		Month:       strings.TrimSpace(pd.Month),
		Day:         strings.TrimSpace(pd.Day),
		Season:      strings.TrimSpace(pd.Season),
		MedlineDate: strings.TrimSpace(pd.MedlineDate),
	}
	a.Year = PublicationYear(a.PubDate)

	for _, t := range article.Types {
		if t = strings.TrimSpace(t); t != "" {
			a.Types = append(a.Types, t)
		}
	}
	for _, cc := range citation.CommentsCorrections {
		for _, id := range cc.PMIDs {
			if id = strings.TrimSpace(id); id != "" {
				a.CommentsCorrections = append(a.CommentsCorrections, id)
			}
		}
	}
	return a, nil
}

// PublicationYear prefers an exact four-digit Year and otherwise digs the
// year out of the free-text MedlineDate ("1998-1999", "2000 Dec-2001 Jan",
// "Winter 2019"). It returns 0 when no year can be found.
func PublicationYear(pd model.PubDate) int {
	if fourDigits.MatchString(pd.Year) {
		y, _ := strconv.Atoi(pd.Year)
		return y
	}
	if pd.MedlineDate == "" {
		return 0
	}
	words := dateSeparator.Split(pd.MedlineDate, -1)
	if m := yearRange.FindStringSubmatch(words[0]); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y
	}
	if m := trailingYear.FindStringSubmatch(words[0]); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y
	}
	if len(words) > 1 {
		if m := trailingYear.FindStringSubmatch(words[len(words)-1]); m != nil {
			y, _ := strconv.Atoi(m[1])
			return y
		}
	}
	return 0
}

func rootElement(doc string) (string, error) {
	d := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return "", errors.New("no root element")
		}
		if err != nil {
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}
