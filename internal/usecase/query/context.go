package query

import (
	"strings"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

const (
	contextHeader      = "Based on the following documentation:\n\n"
	contextInstruction = "Please provide a clear, concise answer that can be easily spoken out loud."
)

// BuildContext assembles the generator input from hits in rank order.
// Hits without usable content are skipped. Sources lists the file name of
// every hit that made it into the context, duplicates included.
func BuildContext(query string, hits []domain.SearchHit) (block string, sources []string, err error) {
	var b strings.Builder
	b.WriteString(contextHeader)

	sources = make([]string, 0, len(hits))
	for _, h := range hits {
		content, ok := h.Content()
		if !ok {
			continue
		}
		name := h.FileName()
		b.WriteString("From ")
		b.WriteString(name)
		b.WriteString(":\n")
		b.WriteString(content)
		b.WriteString("\n\n")
		sources = append(sources, name)
	}
	if len(sources) == 0 {
		return "", nil, domain.ErrNoRelevantDocuments
	}

	b.WriteString("\nUser Question: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	b.WriteString(contextInstruction)

	return b.String(), sources, nil
}
