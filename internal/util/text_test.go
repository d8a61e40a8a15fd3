package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain utf8",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "contains null byte",
			input: "hel\x00lo",
			want:  "hello",
		},
		{
			name:  "contains invalid utf8",
			input: string([]byte{'a', 0xff, 'b'}),
			want:  "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  Drilling   HOLES, in wood! ", "drilling holes in wood"},
		{"M8-Bolt/Nut", "m8 bolt nut"},
		{"电钻 钻孔", "电钻 钻孔"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.input), tt.input)
	}
}

func TestTokenizeAndHan(t *testing.T) {
	assert.Equal(t, []string{"cordless", "drill"}, Tokenize("Cordless drill."))
	assert.True(t, ContainsHan("木工电钻"))
	assert.False(t, ContainsHan("drill"))
	assert.Len(t, TokenSet("drill wood", "Wood saw"), 3)
}

func TestStem(t *testing.T) {
	tests := map[string]string{
		"drilling": "drill",
		"drills":   "drill",
		"drill":    "drill",
		"cutting":  "cut",
		"boxes":    "box",
		"sanded":   "sand",
		"press":    "press",
		"bits":     "bit",
		"钻孔":       "钻孔",
		"sds":      "sds",
	}
	for in, want := range tests {
		assert.Equal(t, want, Stem(in), in)
	}
}

func TestMatchTerms(t *testing.T) {
	assert.Equal(t, []string{"corner", "sand"}, MatchTerms("Sanding in corners"))
	assert.Equal(t, []string{"brick", "drill", "wall"}, MatchTerms("Drill into brick", "and walls"))
	assert.Equal(t, []string{"电钻"}, MatchTerms("电钻 in"))
	assert.Empty(t, MatchTerms("in a to of"))
}
