package main

import "testing"

func TestParseListWindow(t *testing.T) {
	tests := []struct {
		name       string
		limit      string
		offset     string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{name: "defaults", limit: "20", offset: "0", wantLimit: 20, wantOffset: 0},
		{name: "explicit window", limit: "5", offset: "10", wantLimit: 5, wantOffset: 10},
		{name: "negative offset", limit: "20", offset: "-1", wantErr: true},
		{name: "negative limit", limit: "-5", offset: "0", wantErr: true},
		{name: "garbage limit", limit: "abc", offset: "0", wantErr: true},
		{name: "garbage offset", limit: "20", offset: "1.5", wantErr: true},
		{name: "empty offset", limit: "20", offset: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset, err := parseListWindow(tt.limit, tt.offset)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseListWindow(%q, %q) = (%d, %d), want error", tt.limit, tt.offset, limit, offset)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseListWindow(%q, %q): %v", tt.limit, tt.offset, err)
			}
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Fatalf("parseListWindow(%q, %q) = (%d, %d), want (%d, %d)",
					tt.limit, tt.offset, limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
