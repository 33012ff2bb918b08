package timeparsing

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var nlParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// ParseDueAt resolves an explicit due-date string from the task API. RFC3339
// is tried first, then English natural language ("tomorrow 2pm", "next
// friday"). Unresolvable input yields nil rather than an error.
func ParseDueAt(raw string, now time.Time) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		t = time.Date(t.Year(), t.Month(), t.Day(), 9, 0, 0, 0, now.Location())
		return &t
	}

	r, err := nlParser.Parse(s, now)
	if err != nil || r == nil {
		return nil
	}
	return &r.Time
}
