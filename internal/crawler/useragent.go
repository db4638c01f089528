package crawler

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

type platform struct {
	name     string
	versions []string
	browsers []string
}

var platforms = []platform{
	{
		name:     "Macintosh; Intel Mac OS X",
		versions: []string{"10_14_6", "10_15_7"},
		browsers: []string{"Chrome", "Firefox", "Safari"},
	},
	{
		name:     "Windows",
		versions: []string{"NT 6.1", "NT 6.2", "NT 6.3", "NT 10.0"},
		browsers: []string{"Chrome", "Firefox", "Safari", "Edge"},
	},
	{
		name:     "X11",
		versions: []string{"Ubuntu; Linux x86_64", "Linux x86_64"},
		browsers: []string{"Chrome", "Firefox"},
	},
}

var browserVersions = map[string][]string{
	"Chrome":  {"83.0.4103.97", "84.0.4147.105"},
	"Firefox": {"77.0", "78.0"},
	"Edge":    {"83.0.478.61", "84.0.522.40"},
}

// Safari versions depend on the platform: the Windows builds stopped at 5.1.
var safariVersions = map[string][]string{
	"Macintosh; Intel Mac OS X": {"13.1.1", "14.0"},
	"Windows":                   {"5.0", "5.1"},
}

// Each Edge release ships on a fixed Chromium build.
var edgeChromium = map[string]string{
	"83.0.478.61": "83.0.4103.97",
	"84.0.522.40": "84.0.4147.105",
}

// userAgents holds every rendered OS, browser and version combination.
var userAgents = buildUserAgents()

func buildUserAgents() []string {
	var out []string
	for _, p := range platforms {
		for _, osVersion := range p.versions {
			for _, browser := range p.browsers {
				versions := browserVersions[browser]
				if browser == "Safari" {
					versions = safariVersions[p.name]
				}
				for _, version := range versions {
					out = append(out, formatUserAgent(p.name, osVersion, browser, version))
				}
			}
		}
	}
	return out
}

// RandomUserAgent draws one entry uniformly from the full set of OS, browser
// and version combinations.
func RandomUserAgent() string {
	return userAgents[pick(len(userAgents))]
}

func formatUserAgent(platformName, osVersion, browser, version string) string {
	system := fmt.Sprintf("%s %s", platformName, osVersion)
	if platformName == "X11" {
		system = fmt.Sprintf("X11; %s", osVersion)
	}
	switch browser {
	case "Firefox":
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%s) Gecko/20100101 Firefox/%s", system, version, version)
	case "Safari":
		if platformName == "Windows" {
			return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/534.57.2 (KHTML, like Gecko) Version/%s Safari/534.57.2", system, version)
		}
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", system, version)
	case "Edge":
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s",
			system, edgeChromium[version], version)
	default:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", system, version)
	}
}

func pick(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
