package textutil

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "hello", n: 10, want: "hello"},
		{name: "exact", in: "hello", n: 5, want: "hello"},
		{name: "cut", in: "hello world", n: 8, want: "hello..."},
		{name: "disabled", in: "hello", n: 0, want: "hello"},
		{name: "tiny limit", in: "hello", n: 2, want: "he"},
		{name: "multibyte", in: "énergie éolienne", n: 6, want: "éne..."},
		{name: "cjk", in: "太阳能和风能对比", n: 5, want: "太阳..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Truncate(tc.in, tc.n)
			if got != tc.want {
				t.Fatalf("Truncate(%q, %d)=%q want=%q", tc.in, tc.n, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("Truncate produced invalid UTF-8: %q", got)
			}
		})
	}
}

func TestLine(t *testing.T) {
	if got := Line("first\nsecond line", 12); got != "first sec..." {
		t.Fatalf("got=%q", got)
	}
}
