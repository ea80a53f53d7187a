package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// localIDDisplayLen is how many characters of a local id list output shows.
// Prefixes are accepted anywhere a full id is, so the short form stays usable.
const localIDDisplayLen = 8

// shortID truncates a local id for display.
func shortID(id string) string {
	if len(id) <= localIDDisplayLen {
		return id
	}

	return id[:localIDDisplayLen]
}

// formatTime renders an internal nanosecond timestamp compactly for display.
func formatTime(unixNano int64) string {
	if unixNano == 0 {
		return "-"
	}

	t := time.Unix(0, unixNano)
	now := time.Now()

	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// doneMark renders the done column.
func doneMark(done bool) string {
	if done {
		return "x"
	}

	return " "
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
