package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVParser reads a planning sheet: the first row is the header, and each
// following row is one heading. A "title" column names the heading and a
// "level" column (1-6) nests it; every other column is folded into its text.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*Outline, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return &Outline{Title: baseTitle(filename)}, nil
	}

	headers := records[0]
	titleCol, levelCol := -1, -1
	for i, h := range headers {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "title", "chapter", "name":
			if titleCol < 0 {
				titleCol = i
			}
		case "level", "depth":
			levelCol = i
		}
	}

	b := newBuilder()
	for n, row := range records[1:] {
		title := fmt.Sprintf("Row %d", n+2)
		if titleCol >= 0 && titleCol < len(row) && strings.TrimSpace(row[titleCol]) != "" {
			title = strings.TrimSpace(row[titleCol])
		}
		level := 1
		if levelCol >= 0 && levelCol < len(row) {
			if _, err := fmt.Sscanf(row[levelCol], "%d", &level); err != nil || level < 1 {
				level = 1
			}
		}
		b.heading(level, title)

		var text []string
		for j, cell := range row {
			if j == titleCol || j == levelCol || strings.TrimSpace(cell) == "" {
				continue
			}
			if j < len(headers) {
				text = append(text, headers[j]+": "+cell)
			} else {
				text = append(text, cell)
			}
		}
		b.paragraph(strings.Join(text, "\n"))
	}
	return b.outline(baseTitle(filename)), nil
}
