package server

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/reporter/internal/report"
)

// RenderMarkdownReport serializes a compiled report as a single markdown
// document: title, sections in order, then a numbered references list.
func RenderMarkdownReport(rep report.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", rep.Topic)
	fmt.Fprintf(&b, "\n_Generated %s_\n", rep.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))

	for _, section := range rep.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n", section.Name)
		b.WriteString(strings.TrimSpace(section.Content))
		b.WriteString("\n")
	}

	if len(rep.Citations) > 0 {
		b.WriteString("\n## References\n\n")
		for _, cit := range rep.Citations {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", cit.Number, cit.Title, cit.URL)
		}
	}
	return b.String()
}
