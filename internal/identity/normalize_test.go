package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trailing slash", "https://x.com/in/a/", "https://x.com/in/a"},
		{"no trailing slash", "https://x.com/in/a", "https://x.com/in/a"},
		{"multiple trailing slashes", "https://x.com/in/a///", "https://x.com/in/a"},
		{"uppercase scheme and host", "HTTPS://WWW.LinkedIn.COM/in/ada", "https://www.linkedin.com/in/ada"},
		{"path case preserved", "https://x.com/in/AdaL", "https://x.com/in/AdaL"},
		{"query and fragment dropped", "https://x.com/in/a/?utm_source=share#top", "https://x.com/in/a"},
		{"surrounding whitespace", "  https://x.com/in/a/  ", "https://x.com/in/a"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"bare path", "P/42/", "p/42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestEqual_TrailingSlash(t *testing.T) {
	assert.True(t, Equal("https://x.com/in/a", "https://x.com/in/a/"))
	assert.True(t, Equal("https://X.com/in/a", "https://x.com/in/a"))
	assert.False(t, Equal("https://x.com/in/a", "https://x.com/in/b"))
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, in := range []string{"https://x.com/in/a/", "HTTP://Example.org/p?q=1", "plain/"} {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestNormalize_UnicodeNFC(t *testing.T) {
	// "é" composed vs decomposed.
	composed := "https://x.com/in/rené"
	decomposed := "https://x.com/in/rené"
	assert.True(t, Equal(composed, decomposed))
}
