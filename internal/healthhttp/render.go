package healthhttp

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/healthcheck"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// bodyPreview caps how much of a mismatched body is shown.
const bodyPreview = 2048

// Format is an output representation of a Result.
type Format string

const (
	FormatHTML Format = "html"
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Renderer writes a Result with the run's status code. Build one at startup
// and share it; it is safe for concurrent use.
type Renderer struct {
	html *template.Template
}

func NewRenderer() (*Renderer, error) {
	t, err := template.New("results.html.tmpl").
		Funcs(template.FuncMap{"ms": millis}).
		ParseFS(templateFS, "templates/results.html.tmpl")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse results template")
	}
	return &Renderer{html: t}, nil
}

// Negotiate picks a format from ?format= first, then Accept. HTML is the default.
func Negotiate(r *http.Request) Format {
	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "json":
		return FormatJSON
	case "text", "txt":
		return FormatText
	case "html":
		return FormatHTML
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case "application/json":
			return FormatJSON
		case "text/plain":
			return FormatText
		case "text/html":
			return FormatHTML
		}
	}
	return FormatHTML
}

// Render buffers the whole body so a template error never leaves a partial
// response behind a 200.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, res healthcheck.Result) error {
	view := newResultView(res)

	var (
		buf         bytes.Buffer
		contentType string
		err         error
	)
	switch Negotiate(r) {
	case FormatJSON:
		contentType = "application/json; charset=utf-8"
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(view)
	case FormatText:
		contentType = "text/plain; charset=utf-8"
		writeText(&buf, res)
	default:
		contentType = "text/html; charset=utf-8"
		err = rd.html.Execute(&buf, view)
	}
	if err != nil {
		http.Error(w, "failed to render health check result", http.StatusInternalServerError)
		return xerrors.Wrap(err, "render result")
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-store")
	h.Set("Vary", "Accept")
	w.WriteHeader(res.StatusCode())
	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return xerrors.Wrap(err, "write result")
	}
	return nil
}

func writeText(buf *bytes.Buffer, res healthcheck.Result) {
	fmt.Fprintf(buf, "%d passed and %d failed\n", len(res.Passed), len(res.Failed))
	if len(res.Failed) > 0 {
		buf.WriteString("\nfailed:\n")
		for _, o := range res.Failed {
			fmt.Fprintf(buf, "  %s (%s)\n", o.String(), millis(o.Elapsed))
		}
	}
	if len(res.Passed) > 0 {
		buf.WriteString("\npassed:\n")
		for _, o := range res.Passed {
			fmt.Fprintf(buf, "  %s (%s)\n", o.String(), millis(o.Elapsed))
		}
	}
}

func millis(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}

type resultView struct {
	Status     string        `json:"status"`
	StatusCode int           `json:"status_code"`
	Passed     []outcomeView `json:"passed"`
	Failed     []outcomeView `json:"failed"`
}

type outcomeView struct {
	URL        string            `json:"url"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	ElapsedMS  float64           `json:"elapsed_ms"`
	Expected   []string          `json:"expected,omitempty"`
	Missing    []string          `json:"missing,omitempty"`
	Body       string            `json:"body,omitempty"`
	Redirects  int               `json:"redirects,omitempty"`
	Hops       []healthcheck.Hop `json:"hops,omitempty"`
	Elapsed    time.Duration     `json:"-"`
}

func newResultView(res healthcheck.Result) resultView {
	v := resultView{
		StatusCode: res.StatusCode(),
		Passed:     make([]outcomeView, 0, len(res.Passed)),
		Failed:     make([]outcomeView, 0, len(res.Failed)),
	}
	switch v.StatusCode {
	case http.StatusOK:
		v.Status = "pass"
	case http.StatusNotFound:
		v.Status = "empty"
	default:
		v.Status = "fail"
	}
	for _, o := range res.Passed {
		v.Passed = append(v.Passed, newOutcomeView(o))
	}
	for _, o := range res.Failed {
		v.Failed = append(v.Failed, newOutcomeView(o))
	}
	return v
}

func newOutcomeView(o healthcheck.Outcome) outcomeView {
	ov := outcomeView{
		URL:        o.URL,
		Reason:     string(o.Reason),
		StatusCode: o.StatusCode,
		ElapsedMS:  float64(o.Elapsed) / float64(time.Millisecond),
		Expected:   o.Expected,
		Missing:    o.Missing,
		Redirects:  o.Redirects,
		Hops:       o.Hops,
		Elapsed:    o.Elapsed,
	}
	if o.Err != nil {
		ov.Error = o.Err.Error()
	}
	ov.Body = o.Body
	if len(ov.Body) > bodyPreview {
		ov.Body = ov.Body[:bodyPreview] + "..."
	}
	return ov
}
