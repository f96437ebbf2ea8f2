// Package journey derives the visitor funnel (site entry, project page,
// interactive model) from one refresh cycle's page and event records.
package journey

import (
	"math"
	"strings"

	"dashsync/internal/config"
)

type Bucket int

const (
	SiteEntry Bucket = iota
	ProjectPage
	ExcludedPage
)

func (b Bucket) String() string {
	switch b {
	case SiteEntry:
		return "site-entry"
	case ProjectPage:
		return "project-page"
	case ExcludedPage:
		return "excluded-page"
	default:
		return "unknown"
	}
}

type PageRecord struct {
	Path        string  `json:"path"`
	Views       int64   `json:"views"`
	Users       int64   `json:"users"`
	AvgDuration float64 `json:"avgDuration"`
}

type EventCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Users int64  `json:"users"`
}

// Rules holds lower-case path substrings. Classification tries entry, project
// and excluded patterns in that order; a bare "/" falls back to SiteEntry.
type Rules struct {
	EntryPatterns    []string
	ProjectPatterns  []string
	ExcludedPatterns []string
	InteractionEvent string
}

func RulesFromConfig(c config.Journey) Rules {
	return Rules{
		EntryPatterns:    lower(c.EntryPatterns),
		ProjectPatterns:  lower(c.ProjectPatterns),
		ExcludedPatterns: lower(c.ExcludedPatterns),
		InteractionEvent: c.InteractionEvent,
	}
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Classify reports the bucket of path, or false when the page is not part of
// the journey at all.
func (r Rules) Classify(path string) (Bucket, bool) {
	p := strings.ToLower(path)
	switch {
	case containsAny(p, r.EntryPatterns):
		return SiteEntry, true
	case containsAny(p, r.ProjectPatterns):
		return ProjectPage, true
	case containsAny(p, r.ExcludedPatterns):
		return ExcludedPage, true
	case p == "/":
		return SiteEntry, true
	}
	return 0, false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Stage is one page bucket of the funnel.
type Stage struct {
	Views       int64    `json:"views"`
	Users       int64    `json:"users"`
	AvgDuration Duration `json:"avgDuration"`
	Width       float64  `json:"width"`

	weightedDuration float64
}

type Interaction struct {
	Clicks int64   `json:"clicks"`
	Users  int64   `json:"users"`
	Width  float64 `json:"width"`
}

type Report struct {
	Entry         Stage       `json:"entry"`
	Project       Stage       `json:"project"`
	Interaction   Interaction `json:"interaction"`
	ExcludedViews int64       `json:"excludedViews"`

	EntryToProject       Ratio `json:"entryToProject"`
	ProjectToInteraction Ratio `json:"projectToInteraction"`
}

// minWidth keeps empty funnel stages visible.
const minWidth = 5.0

// Aggregate builds the funnel report. It keeps no state between calls.
func Aggregate(rules Rules, pages []PageRecord, events []EventCount) Report {
	var rep Report
	for _, p := range pages {
		b, ok := rules.Classify(p.Path)
		if !ok {
			continue
		}
		switch b {
		case SiteEntry:
			rep.Entry.add(p)
		case ProjectPage:
			rep.Project.add(p)
		case ExcludedPage:
			rep.ExcludedViews += p.Views
		}
	}

	for _, ev := range events {
		if ev.Name == rules.InteractionEvent {
			rep.Interaction.Clicks = ev.Count
			rep.Interaction.Users = ev.Users
		}
	}

	rep.Entry.AvgDuration = rep.Entry.average()
	rep.Project.AvgDuration = rep.Project.average()

	rep.EntryToProject = percent(rep.Project.Views, rep.Entry.Views+rep.Project.Views)
	rep.ProjectToInteraction = percent(rep.Interaction.Clicks, rep.Project.Views)
	if rep.ProjectToInteraction.Valid && rep.ProjectToInteraction.Percent > 100 {
		rep.ProjectToInteraction.Percent = 100
	}

	maxStage := max(rep.Entry.Views, rep.Project.Views, rep.Interaction.Clicks, 1)
	rep.Entry.Width = width(rep.Entry.Views, maxStage)
	rep.Project.Width = width(rep.Project.Views, maxStage)
	rep.Interaction.Width = width(rep.Interaction.Clicks, maxStage)
	return rep
}

func (s *Stage) add(p PageRecord) {
	s.Views += p.Views
	s.Users += p.Users
	s.weightedDuration += p.AvgDuration * float64(p.Views)
}

// average approximates the bucket's mean time on page: per-record averages are
// weighted by views because true duration sums are not reported upstream.
func (s *Stage) average() Duration {
	if s.Views <= 0 {
		return Duration{}
	}
	return Duration{Seconds: s.weightedDuration / float64(s.Views), Valid: true}
}

func percent(num, den int64) Ratio {
	if den <= 0 {
		return Ratio{}
	}
	return Ratio{Percent: int(math.Round(float64(num) / float64(den) * 100)), Valid: true}
}

func width(v, maxStage int64) float64 {
	return math.Max(float64(v)/float64(maxStage)*100, minWidth)
}
