package roamapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

var testToday = time.Date(2025, time.June, 13, 12, 0, 0, 0, time.UTC)

func TestDateFormat_Format(t *testing.T) {
	tests := []struct {
		format DateFormat
		want   string
	}{
		{DateFormat{Layout: "January 2, 2006"}, "June 13, 2025"},
		{DateFormat{Ordinal: true}, "June 13th, 2025"},
		{DateFormat{Layout: "01-02-2006"}, "06-13-2025"},
		{DateFormat{Layout: "2006-01-02"}, "2025-06-13"},
	}
	for _, tt := range tests {
		if got := tt.format.Format(testToday); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestDateFormat_OrdinalFirstOfMonth(t *testing.T) {
	first := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	if got := (DateFormat{Ordinal: true}).Format(first); got != "March 1st, 2025" {
		t.Errorf("got %q", got)
	}
}

func TestFindDailyNoteFormat_DetectsAndCaches(t *testing.T) {
	f := newFakeAPI(t, func(_ string, body map[string]any) (int, any) {
		q := body["query"].(string)
		if strings.Contains(q, `:node/title "June 13, 2025"`) {
			return http.StatusOK, map[string]any{"result": [][]any{{float64(1)}}}
		}
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})
	c := newTestClient(t, f, WithClock(func() time.Time { return testToday }))

	format, err := c.FindDailyNoteFormat(context.Background())
	if err != nil {
		t.Fatalf("FindDailyNoteFormat: %v", err)
	}
	if format.Layout != "January 2, 2006" || format.Ordinal {
		t.Errorf("format = %v", format)
	}

	before := f.requests.Load()
	if _, err := c.FindDailyNoteFormat(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if f.requests.Load() != before {
		t.Error("cached format should not trigger requests")
	}
}

func TestFindDailyNoteFormat_OrdinalGraph(t *testing.T) {
	f := newFakeAPI(t, func(_ string, body map[string]any) (int, any) {
		q := body["query"].(string)
		if strings.Contains(q, `:node/title "June 13th, 2025"`) {
			return http.StatusOK, map[string]any{"result": [][]any{{float64(1)}}}
		}
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})
	c := newTestClient(t, f, WithClock(func() time.Time { return testToday }))

	format, err := c.FindDailyNoteFormat(context.Background())
	if err != nil {
		t.Fatalf("FindDailyNoteFormat: %v", err)
	}
	if !format.Ordinal {
		t.Errorf("format = %v, want ordinal", format)
	}
}

func TestFindDailyNoteFormat_FallbackIsCached(t *testing.T) {
	f := newFakeAPI(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})
	c := newTestClient(t, f, WithClock(func() time.Time { return testToday }))

	format, err := c.FindDailyNoteFormat(context.Background())
	if err != nil {
		t.Fatalf("FindDailyNoteFormat: %v", err)
	}
	if format.Layout != DefaultDateFormat.Layout {
		t.Errorf("format = %v, want default %v", format, DefaultDateFormat)
	}

	before := f.requests.Load()
	if _, err := c.FindDailyNoteFormat(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if f.requests.Load() != before {
		t.Error("fallback format should be cached too")
	}
}

func TestFindDailyNoteFormat_AuthFailureAborts(t *testing.T) {
	f := newFakeAPI(t, func(string, map[string]any) (int, any) {
		return http.StatusUnauthorized, nil
	})
	c := newTestClient(t, f, WithClock(func() time.Time { return testToday }))

	if _, err := c.FindDailyNoteFormat(context.Background()); !errors.Is(err, ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
	if f.requests.Load() != 1 {
		t.Errorf("requests = %d, want 1 (probing must stop)", f.requests.Load())
	}
}

func TestGetDailyNotesContext(t *testing.T) {
	f := newFakeAPI(t, func(path string, body map[string]any) (int, any) {
		if strings.HasSuffix(path, "/pull") {
			return http.StatusOK, map[string]any{"result": map[string]any{
				":node/title": "June 13, 2025",
				":block/uid":  "d13",
				":block/children": []any{
					map[string]any{":block/uid": "b1", ":block/string": "wrote some Go", ":block/order": 0},
				},
			}}
		}
		q := body["query"].(string)
		switch {
		case strings.Contains(q, `:node/title "June 13, 2025"`):
			return http.StatusOK, map[string]any{"result": [][]any{{float64(1)}}}
		case strings.Contains(q, `[[June 13, 2025]]`):
			return http.StatusOK, map[string]any{"result": [][]any{
				{"r1", "planning in [[June 13, 2025]]"},
			}}
		default:
			return http.StatusOK, map[string]any{"result": [][]any{}}
		}
	})
	c := newTestClient(t, f, WithClock(func() time.Time { return testToday }))

	report, err := c.GetDailyNotesContext(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("GetDailyNotesContext: %v", err)
	}

	for _, want := range []string{
		"# Daily Notes Context",
		"## June 13, 2025",
		"### Daily Note Content",
		"- wrote some Go",
		"### References to June 13, 2025 (1 found)",
		"- planning in [[June 13, 2025]]",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
	if strings.Contains(report, "June 12") {
		t.Error("days without a daily note should be skipped")
	}
}

func TestGetDailyNotesContext_NoNotes(t *testing.T) {
	f := newFakeAPI(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{"result": [][]any{}}
	})
	c := newTestClient(t, f, WithClock(func() time.Time { return testToday }))

	report, err := c.GetDailyNotesContext(context.Background(), 2, 5)
	if err != nil {
		t.Fatalf("GetDailyNotesContext: %v", err)
	}
	want := "# Daily Notes Context\n\nNo daily notes found for the specified time range."
	if report != want {
		t.Errorf("report = %q, want %q", report, want)
	}
}
