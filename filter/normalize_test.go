package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Run("lowercases and strips whitespace", func(t *testing.T) {
		assert.Equal(t, "helloworld", Normalize("Hello  World"))
		assert.Equal(t, "abc", Normalize(" a\tb\nc "))
	})

	t.Run("folds full-width characters", func(t *testing.T) {
		assert.Equal(t, "abc123", Normalize("ＡＢＣ１２３"))
		assert.Equal(t, "a!b", Normalize("ａ！ｂ"))
	})

	t.Run("removes ideographic space", func(t *testing.T) {
		assert.Equal(t, "前後", Normalize("前　後"))
	})

	t.Run("spacing does not hide terms", func(t *testing.T) {
		assert.Equal(t, Normalize("badword"), Normalize("b a d w o r d"))
	})
}

func TestCountURLs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    int
	}{
		{"no urls", "just some text", 0},
		{"scheme url", "see https://example.com/page for more", 1},
		{"www url", "visit www.example.net today", 1},
		{"bare common tld", "check example.org please", 1},
		{"multiple", "https://a.com and www.b.net and c.io/path", 3},
		{"not a tld", "read chapter.five of the book", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CountURLs(tc.content))
		})
	}
}
