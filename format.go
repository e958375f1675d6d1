package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphfs/internal/drivefs"
)

// statusf prints a status message to stderr unless --quiet is set.
func statusf(cmd *cobra.Command, format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(cmd.ErrOrStderr(), format, args...)
	}
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp in the style of ls -l.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// itemJSON is the JSON output schema for one item.
type itemJSON struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	IsFolder     bool   `json:"is_folder"`
	ModifiedAt   string `json:"modified_at"`
	ID           string `json:"id"`
	ETag         string `json:"etag,omitempty"`
	CTag         string `json:"ctag,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	QuickXorHash string `json:"quick_xor_hash,omitempty"`
}

func toItemJSON(fi *drivefs.FileInfo) itemJSON {
	return itemJSON{
		Name:         fi.Name(),
		Path:         fi.Path(),
		Size:         fi.Size(),
		IsFolder:     fi.IsDir(),
		ModifiedAt:   fi.ModTime().UTC().Format(time.RFC3339),
		ID:           fi.ID(),
		ETag:         fi.ETag(),
		CTag:         fi.CTag(),
		MimeType:     fi.MimeType(),
		QuickXorHash: fi.QuickXorHash(),
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func printItemsJSON(w io.Writer, infos []*drivefs.FileInfo) error {
	out := make([]itemJSON, 0, len(infos))
	for _, fi := range infos {
		out = append(out, toItemJSON(fi))
	}

	return printJSON(w, out)
}

// printItemsTable prints entries in server order, folders marked with "/".
func printItemsTable(w io.Writer, infos []*drivefs.FileInfo) {
	rows := make([][]string, 0, len(infos))

	for _, fi := range infos {
		name := fi.Name()
		size := formatSize(fi.Size())

		if fi.IsDir() {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(fi.ModTime())})
	}

	printTable(w, []string{"NAME", "SIZE", "MODIFIED"}, rows)
}

func printStat(w io.Writer, fi *drivefs.FileInfo) {
	kind := "file"
	if fi.IsDir() {
		kind = "folder"
	}

	rows := [][2]string{
		{"Path", fi.Path()},
		{"Type", kind},
		{"Size", fmt.Sprintf("%d (%s)", fi.Size(), formatSize(fi.Size()))},
		{"Modified", fi.ModTime().UTC().Format(time.RFC3339)},
		{"Created", fi.CreatedAt().UTC().Format(time.RFC3339)},
		{"ID", fi.ID()},
		{"ETag", fi.ETag()},
	}

	if fi.CTag() != "" {
		rows = append(rows, [2]string{"CTag", fi.CTag()})
	}

	if fi.MimeType() != "" {
		rows = append(rows, [2]string{"MIME type", fi.MimeType()})
	}

	if fi.QuickXorHash() != "" {
		rows = append(rows, [2]string{"QuickXorHash", fi.QuickXorHash()})
	}

	for _, r := range rows {
		fmt.Fprintf(w, "%-13s %s\n", r[0]+":", r[1])
	}
}
