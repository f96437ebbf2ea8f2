package journey

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/dustin/go-humanize"
)

const noData = "—"

// Ratio is a whole percentage. The zero value means no data.
type Ratio struct {
	Percent int
	Valid   bool
}

func (r Ratio) String() string {
	if !r.Valid {
		return noData
	}
	return strconv.Itoa(r.Percent) + "%"
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Percent)
}

// Duration is a time on page in seconds. The zero value means no data.
type Duration struct {
	Seconds float64
	Valid   bool
}

func (d Duration) String() string {
	if !d.Valid {
		return noData
	}
	s := d.Seconds
	switch {
	case s < 60:
		return fmt.Sprintf("%.0fs", math.Round(s))
	case s < 3600:
		return fmt.Sprintf("%dm %.0fs", int(s/60), math.Round(math.Mod(s, 60)))
	default:
		return fmt.Sprintf("%dh %dm", int(s/3600), int(math.Mod(s, 3600)/60))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(d.Seconds)
}

// FormatCount renders a counter with thousands separators.
func FormatCount(n int64) string { return humanize.Comma(n) }

// Lines renders the report the way the funnel panel shows it.
func (r Report) Lines() []string {
	return []string{
		fmt.Sprintf("site entry: %s views, %s users, avg %s",
			FormatCount(r.Entry.Views), FormatCount(r.Entry.Users), r.Entry.AvgDuration),
		fmt.Sprintf("  -> %s", r.EntryToProject),
		fmt.Sprintf("project page: %s views, %s users, avg %s",
			FormatCount(r.Project.Views), FormatCount(r.Project.Users), r.Project.AvgDuration),
		fmt.Sprintf("  -> %s", r.ProjectToInteraction),
		fmt.Sprintf("interactive model: %s clicks, %s users",
			FormatCount(r.Interaction.Clicks), FormatCount(r.Interaction.Users)),
	}
}
