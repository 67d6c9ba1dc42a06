// Package report prints a human-readable summary of an analysis output file.
package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docscan-cli/internal/model"
)

const maxLineBytes = 64 << 20

// First-pass fields shown in the report. Variants that do not produce a
// field print N/A for it.
const (
	fieldReasoning = "reasoning"
	fieldCountry   = "country"
	fieldFeatures  = "list_of_security_features"
)

// Stats summarises a rendered report.
type Stats struct {
	Records    int
	WithErrors int
	Retried    int
	Malformed  int
	MeanScore  float64
}

// Printer writes report sections to an io.Writer.
type Printer struct {
	w       io.Writer
	heading *color.Color
	good    *color.Color
	bad     *color.Color
}

// NewPrinter returns a Printer. Colors are disabled when noColor is set.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	p := &Printer{
		w:       w,
		heading: color.New(color.FgCyan, color.Bold),
		good:    color.New(color.FgGreen),
		bad:     color.New(color.FgRed),
	}
	if noColor {
		for _, c := range []*color.Color{p.heading, p.good, p.bad} {
			c.DisableColor()
		}
	}
	return p
}

// File renders the report for the output file at path.
func (p *Printer) File(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, eris.Wrapf(err, "report: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return p.Render(f)
}

// Render reads JSON Lines output records from r and prints one block per
// record followed by a summary. Malformed lines are logged and skipped.
func (p *Printer) Render(r io.Reader) (Stats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)

	var (
		st       Stats
		scoreSum float64
		lineNo   int
	)
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec model.OutputRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Results == nil {
			st.Malformed++
			zap.L().Warn("report: skipping malformed record", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		p.record(rec)
		st.Records++
		scoreSum += rec.Results.ErrorCheck.Score
		if rec.Results.ErrorCheck.HasErrors {
			st.WithErrors++
		}
		if rec.Results.FinalPass != nil {
			st.Retried++
		}
	}
	if err := sc.Err(); err != nil {
		return st, eris.Wrap(err, "report: scan")
	}
	if st.Records > 0 {
		st.MeanScore = scoreSum / float64(st.Records)
	}
	p.summary(st)
	return st, nil
}

func (p *Printer) record(rec model.OutputRecord) {
	res := rec.Results
	first := res.FirstPass

	if rec.ID != "" {
		p.field("Document", rec.ID)
	}
	p.field("Timestamp", rec.Timestamp.Format(time.RFC3339))
	p.field("Document Type", lookup(first, fieldReasoning))
	p.field("Country", lookup(first, fieldCountry))
	p.field("Security Features", lookup(first, fieldFeatures))

	p.heading.Fprint(p.w, "Error Check: ")
	if res.ErrorCheck.HasErrors {
		p.bad.Fprintln(p.w, "Errors Found")
	} else {
		p.good.Fprintln(p.w, "No Errors")
	}
	p.field("Error Feedback", orNA(res.ErrorCheck.ErrorFeedback))
	p.field("Score", fmt.Sprintf("%.2f", res.ErrorCheck.Score))
	if res.FinalPass != nil {
		p.field("Final Pass", lookup(res.FinalPass, fieldReasoning))
	}

	p.heading.Fprintln(p.w, "PII Extraction:")
	p.lines(res.PIIExtraction)

	if res.Identification == "" {
		p.field("Identification", model.NotAvailable)
	} else {
		p.heading.Fprintln(p.w, "Identification:")
		p.lines(res.Identification)
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) summary(st Stats) {
	p.heading.Fprintln(p.w, "Summary")
	fmt.Fprintf(p.w, "Records: %d\n", st.Records)
	fmt.Fprintf(p.w, "With errors: %d (retried %d)\n", st.WithErrors, st.Retried)
	fmt.Fprintf(p.w, "Mean score: %.2f\n", st.MeanScore)
	if st.Malformed > 0 {
		p.bad.Fprintf(p.w, "Skipped malformed lines: %d\n", st.Malformed)
	}
}

func (p *Printer) field(label, value string) {
	p.heading.Fprint(p.w, label+": ")
	fmt.Fprintln(p.w, value)
}

func (p *Printer) lines(s string) {
	if strings.TrimSpace(s) == "" {
		fmt.Fprintln(p.w, model.NotAvailable)
		return
	}
	for _, line := range strings.Split(s, "\n") {
		fmt.Fprintln(p.w, line)
	}
}

// lookup formats a decoded field for display.
func lookup(v model.Values, key string) string {
	raw, ok := v[key]
	if !ok || raw == nil {
		return model.NotAvailable
	}
	return format(raw)
}

func format(raw any) string {
	switch t := raw.(type) {
	case string:
		return orNA(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, format(e))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+format(t[k]))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(t)
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return model.NotAvailable
	}
	return s
}
