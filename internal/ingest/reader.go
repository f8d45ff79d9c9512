package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"slices"
	"strings"
)

// ParseDomains splits a comma separated list, dropping blanks and duplicates
func ParseDomains(list string) []string {
	var out []string
	for _, d := range strings.Split(list, ",") {
		out = appendDomain(out, d)
	}
	return out
}

// LoadDomains reads protected domains from the first column of a CSV file
// with a header row. Blank rows are skipped.
func LoadDomains(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(stripBOM(f))
	r.FieldsPerRecord = -1
	r.Comment = '#'

	var domains []string
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		line++
		if line == 1 {
			continue // Skip header
		}
		if len(record) == 0 {
			continue
		}
		domains = appendDomain(domains, record[0])
	}
	return domains, nil
}

// Merge combines domain lists, keeping first-seen order
func Merge(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, d := range l {
			out = appendDomain(out, d)
		}
	}
	return out
}

// appendDomain keeps any non-blank entry; entries are link fragments matched
// by substring, so schemes and paths are allowed.
func appendDomain(domains []string, raw string) []string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" || slices.Contains(domains, d) {
		return domains
	}
	return append(domains, d)
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
