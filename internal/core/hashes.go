package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadHashFile loads the hashes from the uploaded input file. A missing file
// yields no hashes rather than an error, the caller treats both the same way.
func ReadHashFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading hash file %s: %w", path, err)
	}
	return ParseHashes(data), nil
}

// ParseHashes extracts hash strings from a CSV/TSV/plain text file whose
// delimiter and column layout are unknown. A column named "hash" wins,
// otherwise the first field of every row is used.
func ParseHashes(data []byte) []string {
	text := normalizeNewlines(strings.ToValidUTF8(string(data), ""))
	if strings.TrimSpace(text) == "" {
		return nil
	}

	delim := sniffDelimiter(text)

	if hashes := parseHashColumn(text, delim); len(hashes) > 0 {
		return hashes
	}
	return parseFirstColumn(text, delim)
}

// normalizeNewlines turns CRLF and lone CR line breaks into LF, the only
// record terminator encoding/csv knows.
func normalizeNewlines(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\r", "\n")
}

func sniffDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 3)
	if len(lines) > 2 {
		lines = lines[:2]
	}
	sample := strings.Join(lines, "\n")

	semicolons, commas := strings.Count(sample, ";"), strings.Count(sample, ",")
	switch {
	case semicolons > 0 && semicolons >= commas:
		return ';'
	case strings.Contains(sample, "\t"):
		return '\t'
	default:
		return ','
	}
}

func newRecordReader(text string, delim rune) *csv.Reader {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false
	return r
}

// readRecords yields every well formed record, malformed ones are dropped.
func readRecords(text string, delim rune, yield func(record []string) bool) {
	r := newRecordReader(text, delim)
	for {
		record, err := r.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return
		}
		if !yield(record) {
			return
		}
	}
}

func parseHashColumn(text string, delim rune) []string {
	column := -1
	var hashes []string

	first := true
	readRecords(text, delim, func(record []string) bool {
		if first {
			first = false
			for i, name := range record {
				if strings.EqualFold(strings.TrimSpace(name), "hash") {
					column = i
					break
				}
			}
			return column >= 0
		}

		if column < len(record) {
			if h := strings.TrimSpace(record[column]); h != "" {
				hashes = append(hashes, h)
			}
		}
		return true
	})

	return hashes
}

func parseFirstColumn(text string, delim rune) []string {
	var hashes []string
	readRecords(text, delim, func(record []string) bool {
		if len(record) == 0 {
			return true
		}
		if h := strings.TrimSpace(record[0]); h != "" {
			hashes = append(hashes, h)
		}
		return true
	})
	return hashes
}
