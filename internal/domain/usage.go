package domain

import "context"

// Meter names a provider resource that is billed and budgeted.
type Meter string

// Metered resources.
const (
	MeterEmbeddingTokens  Meter = "embedding_tokens"
	MeterGenerationTokens Meter = "generation_tokens"
	MeterSpeechChars      Meter = "speech_chars"
)

// Meters lists every meter in reporting order.
func Meters() []Meter {
	return []Meter{MeterEmbeddingTokens, MeterGenerationTokens, MeterSpeechChars}
}

// Budget gates provider calls by meter. Check runs before a call,
// Record after it with the amount actually consumed.
type Budget interface {
	Check(ctx context.Context, m Meter) error
	Record(m Meter, n int64)
}

type usageKey struct{}

// Usage collects provider consumption for one request.
// The handler installs it, the pipeline writes, the handler reports it as headers.
// Not safe for concurrent writers; a query runs its stages sequentially.
type Usage struct {
	EmbeddingTokens  int
	Embedded         bool // true even on a cache hit with 0 tokens
	GenerationTokens int
	SpeechChars      int
}

// NewContextWithUsage returns a context with an empty usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// UsageFromContext returns the collector or nil.
func UsageFromContext(ctx context.Context) *Usage {
	u, _ := ctx.Value(usageKey{}).(*Usage)
	return u
}

// AddEmbeddingTokens records embedding tokens. Nil-safe.
func (u *Usage) AddEmbeddingTokens(n int) {
	if u != nil {
		u.EmbeddingTokens += n
		u.Embedded = true
	}
}

// AddGenerationTokens records chat completion tokens. Nil-safe.
func (u *Usage) AddGenerationTokens(n int) {
	if u != nil {
		u.GenerationTokens += n
	}
}

// AddSpeechChars records characters sent to the speech provider. Nil-safe.
func (u *Usage) AddSpeechChars(n int) {
	if u != nil {
		u.SpeechChars += n
	}
}
