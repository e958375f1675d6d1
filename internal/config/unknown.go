package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each table.
var knownKeys = map[string][]string{
	"drive":     {"base_url", "drive_id", "site"},
	"auth":      {"account", "client_id", "client_secret", "method", "tenant_id", "token_dir"},
	"cache":     {"metadata_ttl", "read_block_size", "read_cache_size"},
	"transfers": {"chunk_size", "parallel", "small_file_threshold"},
	"network":   {"connect_timeout", "data_timeout", "max_retries", "user_agent"},
	"safety":    {"use_recycle_bin"},
	"logging":   {"log_format", "log_level"},
}

// knownSections is sorted so ties in edit distance resolve deterministically.
var knownSections = func() []string {
	out := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}()

// checkUnknownKeys reports every undecoded key in md, with a suggestion
// where a known key is close enough.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		if s := closestMatch(section, knownSections); s != "" {
			return fmt.Errorf("unknown config section [%s], did you mean [%s]?", section, s)
		}

		return fmt.Errorf("unknown config section [%s]", section)
	}

	if len(key) == 1 {
		return nil
	}

	name := strings.Join(key[1:], ".")

	if s := closestMatch(key[1], keys); s != "" {
		return fmt.Errorf("unknown key %q in [%s], did you mean %q?", name, section, s)
	}

	return fmt.Errorf("unknown key %q in [%s]", name, section)
}

// closestMatch returns the candidate nearest to unknown by edit distance,
// or "" if none is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

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
