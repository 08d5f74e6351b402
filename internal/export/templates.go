package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var itineraryTemplate = template.Must(template.New("itinerary").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.Format("Monday, 2 January 2006")
	},
	"paragraphs": splitParagraphs,
}).Parse(itineraryHTML))

type templateData struct {
	Doc         ItineraryDocument
	Amount      string
	GeneratedAt time.Time
}

// splitParagraphs breaks the stored itinerary text into paragraphs on
// blank lines. Single newlines within a paragraph are preserved by the
// template's white-space styling.
func splitParagraphs(text string) []string {
	var out []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			out = append(out, block)
		}
	}
	return out
}

// RenderItineraryHTML renders the itinerary document template
func RenderItineraryHTML(data templateData) (string, error) {
	var buf bytes.Buffer
	if err := itineraryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const itineraryHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Doc.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 720px; margin: 2rem auto; color: #1f2933; }
    h1 { color: #0a7d5c; border-bottom: 2px solid #0a7d5c; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .dates { font-weight: bold; }
    .itinerary p { white-space: pre-line; margin: 1rem 0; }
    .deposit { background: #f0faf6; padding: 1rem; margin-top: 2rem; border-left: 3px solid #0a7d5c; }
    .footer { color: #999; font-size: 0.8em; margin-top: 3rem; }
  </style>
</head>
<body>
  <h1>{{.Doc.Title}}</h1>
  <div class="meta">
    Prepared for {{.Doc.CustomerName}}<br>
    <span class="dates">{{formatDate .Doc.StartDate}} to {{formatDate .Doc.EndDate}}</span>
  </div>
  <div class="itinerary">
    {{range paragraphs .Doc.Itinerary}}<p>{{.}}</p>{{end}}
  </div>
  {{if .Amount}}
  <div class="deposit">Deposit to confirm: <strong>{{.Amount}}</strong></div>
  {{end}}
  <div class="footer">Generated {{.GeneratedAt.Format "2 Jan 2006 15:04"}} · Wayfarer Tours</div>
</body>
</html>`
