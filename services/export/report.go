package export

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/upb/compliance-ledger/models"
	"github.com/upb/compliance-ledger/services/snapshot"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed report.html.tmpl
var reportTemplate string

// reportRenderer turns a manifest into a self-contained HTML document.
// Policy markdown is rendered with raw HTML disabled.
type reportRenderer struct {
	tmpl *template.Template
	md   goldmark.Markdown
}

func newReportRenderer() *reportRenderer {
	r := &reportRenderer{
		md: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
	}
	r.tmpl = template.Must(template.New("report").Funcs(template.FuncMap{
		"markdown":    r.markdown,
		"statusClass": statusClass,
		"bytes":       humanBytes,
		"date":        formatDate,
	}).Parse(reportTemplate))
	return r
}

// Render executes the report template
func (r *reportRenderer) Render(m *snapshot.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *reportRenderer) markdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	// goldmark omits raw HTML unless WithUnsafe is set
	return template.HTML(buf.String()), nil
}

func statusClass(status interface{}) string {
	switch fmt.Sprint(status) {
	case string(models.CompletionCompleted), string(models.ReviewAccepted), string(models.PolicyApproved):
		return "ok"
	case string(models.CompletionInProgress), string(models.PolicyUnderReview):
		return "progress"
	case string(models.ReviewRejected), string(models.TaskBlocked):
		return "bad"
	}
	return "idle"
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}
