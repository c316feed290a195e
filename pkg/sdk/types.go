package voicerag

import (
	"time"

	"github.com/kailas-cloud/voicerag/internal/domain"
	usageuc "github.com/kailas-cloud/voicerag/internal/usecase/usage"
)

// Meter names accepted by WithBudget.
const (
	MeterEmbeddingTokens  = string(domain.MeterEmbeddingTokens)
	MeterGenerationTokens = string(domain.MeterGenerationTokens)
	MeterSpeechChars      = string(domain.MeterSpeechChars)
)

// Answer is a successful query outcome.
type Answer struct {
	Query             string
	Voice             string
	Text              string
	VoiceInstructions string
	Sources           []string // file names, one per retrieved chunk
	Audio             *Artifact
}

// Artifact references the saved audio of an answer.
type Artifact struct {
	ID          string
	Location    string
	ContentType string
	Size        int64
}

// IngestReport describes one ingested document.
type IngestReport struct {
	FileName string
	Pages    int
	Chunks   int
	Skipped  bool // a document with the same name was already ingested
}

// UsageReport is the consumption of every meter over one period.
type UsageReport struct {
	Period      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Meters      []MeterUsage
}

// MeterUsage is one meter's budget state. A zero Limit means unlimited.
type MeterUsage struct {
	Meter     string
	Limit     int64
	Used      int64
	Remaining int64
	Exhausted bool
}

// Voices lists the supported voice names.
func Voices() []string {
	vs := domain.Voices()
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

func answerFromResult(r *domain.QueryResult) Answer {
	a := Answer{
		Query:             r.Query,
		Voice:             string(r.Voice),
		Text:              r.TextResponse,
		VoiceInstructions: r.VoiceInstructions,
		Sources:           r.Sources,
	}
	if r.Audio != nil {
		a.Audio = artifactFromDomain(*r.Audio)
	}
	return a
}

func artifactFromDomain(a domain.Artifact) *Artifact {
	return &Artifact{
		ID:          a.ID,
		Location:    a.Location,
		ContentType: a.ContentType,
		Size:        a.Size,
	}
}

func usageFromReport(r usageuc.Report) UsageReport {
	out := UsageReport{
		Period:      string(r.Period),
		PeriodStart: r.PeriodStart,
		PeriodEnd:   r.PeriodEnd,
		Meters:      make([]MeterUsage, 0, len(r.Meters)),
	}
	for _, m := range r.Meters {
		out.Meters = append(out.Meters, MeterUsage{
			Meter:     string(m.Meter),
			Limit:     m.Limit,
			Used:      m.Used,
			Remaining: m.Remaining,
			Exhausted: m.Exhausted,
		})
	}
	return out
}
