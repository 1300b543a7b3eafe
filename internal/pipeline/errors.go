package pipeline

// ExtractionError marks a failure caused by the content itself, a
// corrupt file or an unsupported codec. These are terminal, retrying
// the same bytes can't ever succeed.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return e.Reason
}
