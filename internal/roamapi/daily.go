package roamapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DateFormat is a daily-note title pattern. Ordinal formats render the day
// with its English suffix ("June 13th, 2025") and cannot be expressed as a
// plain Go layout.
type DateFormat struct {
	Layout  string
	Ordinal bool
}

// Format renders a date as a daily-note page title.
func (f DateFormat) Format(t time.Time) string {
	if f.Ordinal {
		return fmt.Sprintf("%s %d%s, %d", t.Month(), t.Day(), OrdinalSuffix(t.Day()), t.Year())
	}
	return t.Format(f.Layout)
}

func (f DateFormat) String() string {
	if f.Ordinal {
		return "January 2nd, 2006 (ordinal)"
	}
	return f.Layout
}

// Candidate daily-note title formats, probed in order. The long form is the
// Roam default.
var dailyNoteFormats = []DateFormat{
	{Layout: "January 2, 2006"},
	{Ordinal: true},
	{Layout: "01-02-2006"},
	{Layout: "2006-01-02"},
	{Layout: "02-01-2006"},
	{Layout: "01/02/2006"},
	{Layout: "2006/01/02"},
	{Layout: "02/01/2006"},
}

// DefaultDateFormat is used when no candidate matches an existing page.
var DefaultDateFormat = DateFormat{Layout: "01-02-2006"}

// FindDailyNoteFormat detects the graph's daily-note title format by probing
// each candidate against today's date, caching the first format for which a
// page exists. Probe failures move on to the next candidate, except
// authentication failures which abort immediately. When every candidate
// misses, the default format is cached and returned.
func (c *Client) FindDailyNoteFormat(ctx context.Context) (DateFormat, error) {
	c.mu.Lock()
	if c.dailyFormat != nil {
		f := *c.dailyFormat
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()

	today := c.now()

	for _, format := range dailyNoteFormats {
		dateStr := format.Format(today)
		slog.Debug("probing daily note format", slog.String("title", dateStr))

		safe, err := SanitizeQueryInput(dateStr)
		if err != nil {
			continue
		}
		query := fmt.Sprintf(`[:find ?e :where [?e :node/title "%s"]]`, safe)
		rows, err := c.RunQuery(ctx, query, nil)
		if err != nil {
			if errors.Is(err, ErrAuthentication) {
				return DateFormat{}, err
			}
			slog.Debug("daily note probe failed",
				slog.String("title", dateStr), slog.String("error", err.Error()))
			continue
		}
		if len(rows) > 0 {
			slog.Info("detected daily note format",
				slog.String("format", format.String()), slog.String("title", dateStr))
			c.mu.Lock()
			c.dailyFormat = &format
			c.mu.Unlock()
			return format, nil
		}
	}

	// Cache the fallback too: re-probing on every call would burn through the
	// rate limit for graphs that simply have no daily note today.
	slog.Warn("no daily note format detected, using default",
		slog.String("format", DefaultDateFormat.String()))
	c.mu.Lock()
	c.dailyFormat = &DefaultDateFormat
	c.mu.Unlock()
	return DefaultDateFormat, nil
}

// GetDailyNotesContext renders the most recent daily notes with their
// backlinks as a markdown report. Days without a daily note are skipped;
// when no day has content the report collapses to a single message.
func (c *Client) GetDailyNotesContext(ctx context.Context, days, maxReferences int) (string, error) {
	if days <= 0 {
		days = 10
	}
	if maxReferences <= 0 {
		maxReferences = 10
	}

	format, err := c.FindDailyNoteFormat(ctx)
	if err != nil {
		return "", err
	}

	var sections []string
	for i := 0; i < days; i++ {
		date := c.now().AddDate(0, 0, -i)
		dateStr := format.Format(date)

		page, err := c.GetPage(ctx, dateStr)
		if err != nil {
			if errors.Is(err, ErrPageNotFound) {
				continue
			}
			return "", err
		}

		var day strings.Builder
		fmt.Fprintf(&day, "## %s\n", dateStr)

		markdown, err := ProcessBlocks(page.Children, 0, false, nil)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(markdown) != "" {
			day.WriteString("### Daily Note Content\n")
			day.WriteString(markdown)
		}

		refs, err := c.GetReferencesToPage(ctx, dateStr, maxReferences)
		if err != nil {
			return "", err
		}
		if len(refs) > 0 {
			fmt.Fprintf(&day, "### References to %s (%d found)\n", dateStr, len(refs))
			for _, ref := range refs {
				fmt.Fprintf(&day, "- %s\n", ref.Content)
			}
		}

		// Only keep days that produced more than the header.
		if strings.Count(day.String(), "\n") > 1 {
			sections = append(sections, day.String())
		}
	}

	if len(sections) == 0 {
		return "# Daily Notes Context\n\nNo daily notes found for the specified time range.", nil
	}
	return "# Daily Notes Context\n\n" + strings.Join(sections, "\n\n"), nil
}
