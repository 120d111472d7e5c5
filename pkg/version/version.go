package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var Version string

// Get returns the current version of the application
func Get() string {
	return strings.TrimSpace(Version)
}

// UserAgent returns the User-Agent sent on outbound requests
func UserAgent(name string) string {
	return name + "/" + Get()
}
