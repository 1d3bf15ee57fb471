// Package templates embeds the default configuration written by
// `refinery init`.
package templates

import "embed"

//go:embed config.yml
var FS embed.FS

// DefaultConfig returns the default config.yml contents.
func DefaultConfig() []byte {
	data, err := FS.ReadFile("config.yml")
	if err != nil {
		// The file is embedded at build time; a read failure here is a
		// packaging bug.
		panic(err)
	}
	return data
}
