package parser

import (
	"bufio"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dtnitsch/llm-doc-summarizer/models"
	"github.com/go-shiori/go-readability"
)

const blockSelector = "h1,h2,h3,h4,p,li,table,pre"

// Boilerplate stripped from the raw page when readability finds no article.
const chromeSelector = "script,style,noscript,nav,header,footer,aside,form,iframe,svg"

var (
	fenceLine  = regexp.MustCompile("(?m)^[ \t]*```[\\w+-]*[ \t]*(\n|$)")
	spaceRun   = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+`)
)

type Parser struct{}

// ParseToStructured extracts the main content of a page into a structured Page.
// HTML goes through go-readability first and falls back to the whole body when
// readability yields nothing. Plain-text bodies are cleaned and split into paragraphs.
func (p *Parser) ParseToStructured(req models.ParseRequest) (*models.Page, error) {
	if isPlainText(req.ContentType) {
		return parsePlain(req), nil
	}

	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	var title string
	var content []models.ContentBlock

	rp := readability.NewParser()
	article, err := rp.Parse(strings.NewReader(req.HTML), parsedURL)
	if err == nil {
		title = normalizeText(article.Title)
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
		if err == nil {
			content = extractBlocks(doc.Selection)
		}
	}

	if len(content) == 0 {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(req.HTML))
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML: %w", err)
		}
		if title == "" {
			title = normalizeText(doc.Find("title").First().Text())
		}
		body := doc.Find("body")
		body.Find(chromeSelector).Remove()
		content = extractBlocks(body)
	}

	return &models.Page{
		URL:     req.URL,
		Title:   title,
		Content: content,
	}, nil
}

// CleanText collapses runs of spaces, squeezes blank lines to one and drops
// markdown code fence markers while keeping the fenced code.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = fenceLine.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isPlainText(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/plain")
}

func parsePlain(req models.ParseRequest) *models.Page {
	page := &models.Page{URL: req.URL}
	for _, para := range strings.Split(CleanText(req.HTML), "\n\n") {
		if para == "" {
			continue
		}
		page.Content = append(page.Content, models.ContentBlock{Type: "p", Text: para})
	}
	return page
}

func extractBlocks(root *goquery.Selection) []models.ContentBlock {
	var content []models.ContentBlock

	root.Find(blockSelector).Each(func(i int, s *goquery.Selection) {
		// Text inside a list item, table or code block is emitted by that container.
		if s.ParentsFiltered("li,table,pre").Length() > 0 {
			return
		}
		tag := goquery.NodeName(s)

		switch tag {
		case "table":
			if table := extractTable(s); table != nil {
				content = append(content, models.ContentBlock{Type: "table", Table: table})
			}

		case "pre":
			if code := extractCodeBlock(s); code != nil {
				content = append(content, models.ContentBlock{Type: "code", Code: code})
			}

		default:
			if text := normalizeText(s.Text()); text != "" {
				content = append(content, models.ContentBlock{Type: tag, Text: text})
			}
		}
	})

	return content
}

// normalizeText trims each line and joins the non-empty ones with a single space.
func normalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			b.WriteString(line)
			b.WriteString(" ")
		}
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(b.String(), " "))
}

func extractTable(s *goquery.Selection) *models.Table {
	var headers []string
	var rows [][]string

	s.Find("thead tr th").Each(func(i int, th *goquery.Selection) {
		headers = append(headers, normalizeText(th.Text()))
	})

	rowSel := s.Find("tr")
	if len(headers) == 0 {
		first := rowSel.First()
		if first.Find("th").Length() > 0 {
			first.Find("th,td").Each(func(i int, cell *goquery.Selection) {
				headers = append(headers, normalizeText(cell.Text()))
			})
			rowSel = rowSel.Slice(1, rowSel.Length())
		}
	}

	rowSel.Each(func(i int, tr *goquery.Selection) {
		if tr.ParentsFiltered("thead").Length() > 0 {
			return
		}
		var row []string
		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			row = append(row, normalizeText(td.Text()))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})

	if len(headers) == 0 && len(rows) == 0 {
		return nil
	}
	return &models.Table{Headers: headers, Rows: rows}
}

func extractCodeBlock(s *goquery.Selection) *models.Code {
	var lang string
	text := s.Text()

	if codeSel := s.Find("code").First(); codeSel.Length() > 0 {
		text = codeSel.Text()
		class, _ := codeSel.Attr("class")
		for _, c := range strings.Fields(class) {
			if after, ok := strings.CutPrefix(c, "language-"); ok {
				lang = after
				break
			}
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return &models.Code{Language: lang, Content: text}
}
