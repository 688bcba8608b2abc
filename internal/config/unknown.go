package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys lists the valid keys of every section.
var knownSectionKeys = map[string][]string{
	"provider": {"name", "base_url", "token_url", "minor_version", "client_id", "client_secret"},
	"retry":    {"max_attempts", "base_delay"},
	"sweeper":  {"interval", "ceiling", "base_delay", "batch_size", "concurrency", "lease_timeout", "entity"},
	"token":    {"refresh_window"},
	"store":    {"path", "busy_timeout"},
	"server":   {"listen", "jwt_secret", "max_batch", "shutdown_timeout"},
	"accounts": {"default_expense_account", "default_income_item"},
	"logging":  {"log_level", "log_file", "log_format", "log_retention_days", "log_max_size_mb"},
	"network":  {"connect_timeout", "data_timeout", "user_agent"},
}

// knownEntityKeys are the valid keys inside [sweeper.entity.<type>].
var knownEntityKeys = []string{"ceiling", "base_delay"}

// knownSections is the sorted list of section names for suggestions.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownSectionKeys))
	for k := range knownSectionKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	seen := make(map[string]bool)

	for _, key := range undecoded {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest known
// key in the same scope.
func unknownKeyError(key toml.Key) error {
	switch {
	case len(key) == 1:
		return suggest("unknown config section", key[0], knownSections)

	case key[0] == "sweeper" && len(key) >= 4 && key[1] == "entity":
		return suggest(fmt.Sprintf("unknown config key in [sweeper.entity.%s]", key[2]), key[3], knownEntityKeys)
	}

	known, ok := knownSectionKeys[key[0]]
	if !ok {
		return suggest("unknown config section", key[0], knownSections)
	}

	return suggest(fmt.Sprintf("unknown config key in [%s]", key[0]), key[1], known)
}

func suggest(prefix, name string, known []string) error {
	if s := closestMatch(name, known); s != "" {
		return fmt.Errorf("%s %q, did you mean %q?", prefix, name, s)
	}

	return fmt.Errorf("%s %q (valid: %s)", prefix, name, strings.Join(known, ", "))
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
