package domain

// QueryStatus is the terminal outcome of a query.
type QueryStatus string

const (
	// StatusSuccess means every stage completed.
	StatusSuccess QueryStatus = "success"
	// StatusError means the pipeline stopped at some stage.
	StatusError QueryStatus = "error"
)

// Artifact references persisted audio.
type Artifact struct {
	ID          string
	Location    string // file path or object URL
	ContentType string
	Size        int64
}

// QueryResult is the only value the query pipeline returns.
// On error only Status, Query, Error and ErrorKind are set.
type QueryResult struct {
	Status            QueryStatus
	Query             string
	Voice             Voice
	TextResponse      string
	VoiceInstructions string
	Audio             *Artifact
	Sources           []string
	Error             string
	ErrorKind         ErrorKind
}

// Succeeded reports whether the result carries an answer.
func (r *QueryResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// FailedResult builds an error result from err.
func FailedResult(query string, err error) QueryResult {
	return QueryResult{
		Status:    StatusError,
		Query:     query,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
	}
}
