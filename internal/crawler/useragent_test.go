package crawler

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userAgentPattern = regexp.MustCompile(`^Mozilla/5\.0 \([^()]+\) [A-Za-z]+/[0-9.]+( \([^()]+\))?( [A-Za-z]+/[0-9.]+)+$`)

// TestRandomUserAgentIsWellFormed ensures every drawn header matches the browser layout.
func TestRandomUserAgentIsWellFormed(t *testing.T) {
	t.Parallel()

	for i := 0; i < 500; i++ {
		ua := RandomUserAgent()
		require.Regexp(t, userAgentPattern, ua)
		require.False(t, strings.ContainsAny(ua, "\r\n"), "header value must be a single line")
	}
}

// TestFormatUserAgent checks the rendering of each browser family.
func TestFormatUserAgent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		platform string
		os       string
		browser  string
		version  string
		want     string
	}{
		{
			name:     "chrome on mac",
			platform: "Macintosh; Intel Mac OS X",
			os:       "10_15_7",
			browser:  "Chrome",
			version:  "84.0.4147.105",
			want:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/84.0.4147.105 Safari/537.36",
		},
		{
			name:     "firefox on linux",
			platform: "X11",
			os:       "Linux x86_64",
			browser:  "Firefox",
			version:  "78.0",
			want:     "Mozilla/5.0 (X11; Linux x86_64; rv:78.0) Gecko/20100101 Firefox/78.0",
		},
		{
			name:     "safari on windows",
			platform: "Windows",
			os:       "NT 6.1",
			browser:  "Safari",
			version:  "5.1",
			want:     "Mozilla/5.0 (Windows NT 6.1) AppleWebKit/534.57.2 (KHTML, like Gecko) Version/5.1 Safari/534.57.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatUserAgent(tt.platform, tt.os, tt.browser, tt.version))
		})
	}
}

// TestFormatUserAgentEdge ensures Edge carries the Chromium build it ships on.
func TestFormatUserAgentEdge(t *testing.T) {
	t.Parallel()

	ua := formatUserAgent("Windows", "NT 10.0", "Edge", "84.0.522.40")
	assert.Equal(t,
		"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/84.0.4147.105 Safari/537.36 Edg/84.0.522.40",
		ua)
	assert.Regexp(t, userAgentPattern, ua)
}

// TestUserAgentCatalogCoversEveryCombination ensures each OS, browser and
// version combination is rendered exactly once.
func TestUserAgentCatalogCoversEveryCombination(t *testing.T) {
	t.Parallel()

	// mac 2x(2+2+2), windows 4x(2+2+2+2), linux 2x(2+2)
	require.Len(t, userAgents, 52)
	seen := make(map[string]struct{}, len(userAgents))
	for _, ua := range userAgents {
		_, dup := seen[ua]
		require.False(t, dup, "duplicate user agent %q", ua)
		seen[ua] = struct{}{}
	}
}

// TestRandomUserAgentIsUniform ensures each OS appears in proportion to the
// number of combinations it contributes, not one third each.
func TestRandomUserAgentIsUniform(t *testing.T) {
	t.Parallel()

	const draws = 52000
	counts := map[string]int{}
	hits := map[string]int{}
	for i := 0; i < draws; i++ {
		ua := RandomUserAgent()
		hits[ua]++
		switch {
		case strings.Contains(ua, "Windows"):
			counts["windows"]++
		case strings.Contains(ua, "Macintosh"):
			counts["mac"]++
		case strings.Contains(ua, "X11"):
			counts["linux"]++
		}
	}

	assert.InDelta(t, 32.0/52, float64(counts["windows"])/draws, 0.02)
	assert.InDelta(t, 12.0/52, float64(counts["mac"])/draws, 0.02)
	assert.InDelta(t, 8.0/52, float64(counts["linux"])/draws, 0.02)
	for _, ua := range userAgents {
		assert.Greater(t, hits[ua], 700, "combination drawn too rarely: %q", ua)
	}
}
