package processor

import (
	"bytes"
	"io"
	"strconv"
	"sync"

	"github.com/edisonguo/jet"
)

const compositeSummaryTemplate = `Composite dataset created by grouping on ['s2:mgrs_tile', 'sat:relative_orbit'], using a {{ method }} method, sorted by 'eo:cloud_cover' with an average of {{ avgObs }} images per group.`

var (
	summaryOnce sync.Once
	summaryTmpl *jet.Template
	summaryErr  error
)

func loadSummaryTemplate() (*jet.Template, error) {
	summaryOnce.Do(func() {
		view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
			w.Write(b)
		}))
		summaryTmpl, summaryErr = view.LoadTemplate("composite_summary", compositeSummaryTemplate)
	})
	return summaryTmpl, summaryErr
}

// formatPyFloat prints whole numbers with a trailing ".0".
func formatPyFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'N' || c == 'I' {
			return s
		}
	}
	return s + ".0"
}

func methodDescription(percentile int) string {
	if percentile == 50 {
		return "median"
	}
	return strconv.Itoa(percentile) + "th percentile"
}

// CompositeSummary renders the human readable description of a composite.
func CompositeSummary(percentile int, avgObs float64) (string, error) {
	tmpl, err := loadSummaryTemplate()
	if err != nil {
		return "", err
	}
	vars := make(jet.VarMap)
	vars.Set("method", methodDescription(percentile))
	vars.Set("avgObs", formatPyFloat(avgObs))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}
