package roamapi

import (
	"errors"
	"testing"
)

func TestSanitizeQueryInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain title", input: "Project Notes", want: "Project Notes"},
		{name: "quotes doubled", input: `say "hello"`, want: `say ""hello""`},
		{name: "unicode kept", input: "café ☕", want: "café ☕"},
		{name: "null byte rejected", input: "abc\x00def", wantErr: true},
		{name: "find clause rejected", input: `x" ] [:find ?e`, wantErr: true},
		{name: "find clause case insensitive", input: "[:FIND ?e", wantErr: true},
		{name: "where clause rejected", input: "[:where [?b", wantErr: true},
		{name: "logic variable rejected", input: "[?e :node/title", wantErr: true},
		{name: "question mark alone ok", input: "what? really?", want: "what? really?"},
		{name: "brackets alone ok", input: "[[Page Name]]", want: "[[Page Name]]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeQueryInput(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if !errors.Is(err, ErrInvalidQuery) {
					t.Errorf("err = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
