package graph

import (
	"log/slog"
	"net/url"
	"slices"
)

// normalizeDeltaItems applies delta-only quirk handling to a batch of items:
// URL-encoded names are decoded, then duplicates collapse to their last state.
func normalizeDeltaItems(items []Item, logger *slog.Logger) []Item {
	items = decodeURLEncodedNames(items, logger)
	items = deduplicateItems(items, logger)

	return items
}

// deduplicateItems removes duplicate item IDs, keeping only the last occurrence.
// The same item can appear more than once when it changes between pages.
func deduplicateItems(items []Item, logger *slog.Logger) []Item {
	if len(items) == 0 {
		return items
	}

	reversed := slices.Clone(items)
	slices.Reverse(reversed)

	seen := make(map[string]bool, len(reversed))
	kept := make([]Item, 0, len(reversed))

	for i := range reversed {
		if seen[reversed[i].ID] {
			continue
		}

		seen[reversed[i].ID] = true
		kept = append(kept, reversed[i])
	}

	slices.Reverse(kept)

	if dupes := len(items) - len(kept); dupes > 0 {
		logger.Debug("deduplicated items in delta batch",
			slog.Int("duplicate_count", dupes),
			slog.Int("remaining_count", len(kept)),
		)
	}

	return kept
}

// decodeURLEncodedNames applies url.PathUnescape to item names. Delta
// responses sometimes carry names such as "my%20file.txt".
func decodeURLEncodedNames(items []Item, logger *slog.Logger) []Item {
	for i := range items {
		unescaped, err := url.PathUnescape(items[i].Name)
		if err != nil || unescaped == items[i].Name {
			continue
		}

		logger.Debug("URL-decoded item name",
			slog.String("item_id", items[i].ID),
			slog.String("decoded", unescaped),
		)

		items[i].Name = unescaped
	}

	return items
}
