// Package scripts embeds the baseline detector scripts shipped with the
// engine. Each .cue file is one detector: it reads `ctx` and defines
// `result`, a list of alert candidates. Baselines are seeded into the
// revision store as the initial active revision per script name; edited
// versions live only in the store.
package scripts

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

//go:embed baseline/*.cue
var baselineFS embed.FS

// Names returns the baseline script names in sorted order.
func Names() []string {
	entries, err := baselineFS.ReadDir("baseline")
	if err != nil {
		// The directory is embedded at compile time; failure here means a
		// broken build, not a runtime condition.
		panic(fmt.Sprintf("read embedded scripts: %v", err))
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".cue"))
	}
	sort.Strings(names)
	return names
}

// Version derives the short content version recorded on alerts emitted
// by a script: the first 12 hex characters of the source's SHA-256.
func Version(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])[:12]
}

// Source returns the baseline source for a script name.
func Source(name string) (string, error) {
	data, err := baselineFS.ReadFile("baseline/" + name + ".cue")
	if err != nil {
		return "", fmt.Errorf("unknown baseline script %q", name)
	}
	return string(data), nil
}
