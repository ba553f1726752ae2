package parser

import (
	"strings"
	"testing"
)

func TestCSVParser_LevelsAndColumns(t *testing.T) {
	input := "level,title,notes\n1,Part One,opening\n2,Arrival,the keeper arrives\n1,Part Two,\n"
	o, err := (&CSVParser{}).Parse(strings.NewReader(input), "plan.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Headings) != 2 {
		t.Fatalf("expected 2 top-level headings, got %d", len(o.Headings))
	}
	one := o.Headings[0]
	if one.Title != "Part One" || one.Text != "notes: opening" {
		t.Errorf("unexpected part one: %q / %q", one.Title, one.Text)
	}
	if len(one.Children) != 1 || one.Children[0].Title != "Arrival" {
		t.Fatalf("expected Arrival under Part One, got %+v", one.Children)
	}
	if o.Headings[1].Text != "" {
		t.Errorf("empty cells should be skipped, got %q", o.Headings[1].Text)
	}
}

func TestCSVParser_NoTitleColumn(t *testing.T) {
	o, err := (&CSVParser{}).Parse(strings.NewReader("a,b\n1,2\n"), "x.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Headings[0].Title != "Row 2" {
		t.Errorf("expected row fallback title, got %q", o.Headings[0].Title)
	}
}
