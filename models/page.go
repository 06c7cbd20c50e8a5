package models

import "strings"

// Page represents the structured content of a single web page.
type Page struct {
	URL     string         `json:"url" yaml:"url"`
	Title   string         `json:"title" yaml:"title"`
	Content []ContentBlock `json:"content" yaml:"content"`
}

type Table struct {
	Headers []string   `json:"headers,omitempty" yaml:"headers,omitempty"`
	Rows    [][]string `json:"rows" yaml:"rows"`
}

type Code struct {
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Content  string `json:"content" yaml:"content"`
}

// ContentBlock represents a semantic block of text on a page.
type ContentBlock struct {
	Type  string `json:"type" yaml:"type"` // e.g., "h1", "h2", "p", "li"
	Text  string `json:"text" yaml:"text"`
	Table *Table `json:"table,omitempty" yaml:"table,omitempty"`
	Code  *Code  `json:"code,omitempty" yaml:"code,omitempty"`
}

// ToPlainText renders the blocks as paragraphs separated by blank lines.
// Consecutive list items stay in one paragraph.
func (p *Page) ToPlainText() string {
	var paragraphs []string
	var list []string

	flushList := func() {
		if len(list) > 0 {
			paragraphs = append(paragraphs, strings.Join(list, "\n"))
			list = nil
		}
	}

	for _, block := range p.Content {
		if block.Type == "li" {
			list = append(list, "- "+block.Text)
			continue
		}
		flushList()

		switch block.Type {
		case "table":
			if block.Table == nil {
				continue
			}
			var rows []string
			if len(block.Table.Headers) > 0 {
				rows = append(rows, strings.Join(block.Table.Headers, " | "))
			}
			for _, row := range block.Table.Rows {
				rows = append(rows, strings.Join(row, " | "))
			}
			if len(rows) > 0 {
				paragraphs = append(paragraphs, strings.Join(rows, "\n"))
			}

		case "code":
			if block.Code == nil {
				continue
			}
			paragraphs = append(paragraphs, block.Code.Content)

		case "h1", "h2", "h3", "h4":
			level := int(block.Type[1] - '0')
			paragraphs = append(paragraphs, strings.Repeat("#", level)+" "+block.Text)

		default:
			if block.Text != "" {
				paragraphs = append(paragraphs, block.Text)
			}
		}
	}
	flushList()

	return strings.Join(paragraphs, "\n\n")
}
