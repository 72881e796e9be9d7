package bundler

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// NamedAnalysis pairs an analysis with the function it belongs to
type NamedAnalysis struct {
	Name      string
	Externals []string
	*Analysis
}

// WriteAnalysis prints the breakdown of one bundle. Only the ten largest inputs are listed unless
// all is set.
func WriteAnalysis(w io.Writer, a NamedAnalysis, all bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s ===\n", a.Name)
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", FormatBytes(a.TotalBytes))

	if len(a.Externals) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (provided by the layer or runtime):")
		for _, ext := range a.Externals {
			_, _ = fmt.Fprintf(w, "  - %s\n", ext)
		}
	}

	if len(a.Inputs) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		limit := 10
		if all || limit > len(a.Inputs) {
			limit = len(a.Inputs)
		}

		width := 0
		for _, in := range a.Inputs[:limit] {
			if n := len(truncatePath(in.Path, 50)); n > width {
				width = n
			}
		}
		for _, in := range a.Inputs[:limit] {
			p := truncatePath(in.Path, 50)
			_, _ = fmt.Fprintf(w, "  %s%s  %10s  %5.1f%%\n", p, strings.Repeat(" ", width-len(p)), FormatBytes(in.BytesInOutput), in.Percentage)
		}
		if rest := len(a.Inputs) - limit; rest > 0 {
			_, _ = fmt.Fprintf(w, "  ... and %d more files\n", rest)
		}
	}
	_, _ = fmt.Fprintln(w)
}

// WriteSummary prints one line per bundle, largest first, and a total
func WriteSummary(w io.Writer, all []NamedAnalysis) {
	if len(all) == 0 {
		return
	}
	sorted := append([]NamedAnalysis(nil), all...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TotalBytes > sorted[j].TotalBytes })

	width := len("FUNCTION")
	for _, a := range sorted {
		if len(a.Name) > width {
			width = len(a.Name)
		}
	}
	rule := fmt.Sprintf("%s  -----------  ------  ---------\n", strings.Repeat("-", width))

	_, _ = fmt.Fprintln(w, "\n=== Bundle Size Summary ===")
	_, _ = fmt.Fprintf(w, "%-*s  BUNDLE SIZE  INPUTS  EXTERNALS\n", width, "FUNCTION")
	_, _ = fmt.Fprint(w, rule)

	total := 0
	for _, a := range sorted {
		total += a.TotalBytes
		_, _ = fmt.Fprintf(w, "%-*s  %11s  %6d  %9d\n", width, a.Name, FormatBytes(a.TotalBytes), len(a.Inputs), len(a.Externals))
	}
	_, _ = fmt.Fprint(w, rule)
	_, _ = fmt.Fprintf(w, "%-*s  %11s\n\n", width, "TOTAL", FormatBytes(total))
}

// FormatBytes formats a byte count for humans
func FormatBytes(n int) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)
	switch {
	case n >= MB:
		return fmt.Sprintf("%.2f MB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.2f KB", float64(n)/float64(KB))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func truncatePath(path string, limit int) string {
	if len(path) <= limit {
		return path
	}
	return "..." + path[len(path)-limit+3:]
}
