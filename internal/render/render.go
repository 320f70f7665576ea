// Package render turns a fetched report table into a deliverable artifact:
// a short text summary for tiny result sets, an HTML document otherwise.
package render

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"reportbot/internal/report"
)

type Kind int

const (
	KindText Kind = iota
	KindDocument
)

// Artifact is what gets handed to the messaging gateway.
type Artifact struct {
	Kind    Kind
	Caption string
	// Text holds the summary for KindText.
	Text string
	// Path holds the rendered document for KindDocument. The path embeds the
	// report id and a timestamp, so concurrently firing jobs never collide.
	Path string
}

// Text/document cutoff: result sets this small read fine inline.
const (
	maxTextRows = 4
	maxTextCols = 2
)

// seq disambiguates documents written within the same second.
var seq atomic.Int64

type Renderer struct {
	outputDir string
}

func New(outputDir string) *Renderer {
	if strings.TrimSpace(outputDir) == "" {
		outputDir = "./reports"
	}
	return &Renderer{outputDir: outputDir}
}

// Render produces the artifact for one firing.
func (r *Renderer) Render(reportID, name string, t *report.Table) (Artifact, error) {
	if t == nil {
		t = &report.Table{}
	}
	if len(t.Rows) < maxTextRows && len(t.Columns) < maxTextCols {
		return Artifact{Kind: KindText, Text: renderText(name, t)}, nil
	}

	path, err := r.renderDocument(reportID, name, t)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Kind:    KindDocument,
		Caption: fmt.Sprintf("%s (%d rows)", name, len(t.Rows)),
		Path:    path,
	}, nil
}

func renderText(name string, t *report.Table) string {
	var b strings.Builder
	b.WriteString(name)
	if len(t.Rows) == 0 {
		b.WriteString(": no data")
		return b.String()
	}
	col := ""
	if len(t.Columns) > 0 {
		col = t.Columns[0]
	}
	for _, row := range t.Rows {
		b.WriteString("\n")
		if col != "" {
			b.WriteString(row[col])
		} else {
			// No declared columns; dump whatever the row has.
			for _, v := range row {
				b.WriteString(v)
				break
			}
		}
	}
	return b.String()
}

func (r *Renderer) renderDocument(reportID, name string, t *report.Table) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	fn := fmt.Sprintf("%s-%s-%d.html",
		sanitize(reportID), time.Now().Format("20060102-150405"), seq.Add(1))
	path := filepath.Join(r.outputDir, fn)

	var b strings.Builder
	b.WriteString("<!doctype html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(name))
	b.WriteString("</title></head><body>\n<h1>")
	b.WriteString(html.EscapeString(name))
	b.WriteString("</h1>\n<table border=\"1\" cellspacing=\"0\" cellpadding=\"4\">\n<tr>")
	for _, c := range t.Columns {
		b.WriteString("<th>")
		b.WriteString(html.EscapeString(c))
		b.WriteString("</th>")
	}
	b.WriteString("</tr>\n")
	for _, row := range t.Rows {
		b.WriteString("<tr>")
		for _, c := range t.Columns {
			b.WriteString("<td>")
			b.WriteString(html.EscapeString(row[c]))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n</body></html>\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return path, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
