package protocol

// GenerateRequest is the bus payload; it mirrors the form fields.
type GenerateRequest struct {
	Tatort       string `json:"tatort"`
	Tathandlung  string `json:"tathandlung"`
	Zeugen       string `json:"zeugen"`
	Beweismittel string `json:"beweismittel"`
}

// GenerateReply carries the HTTP-equivalent status next to the envelope body.
// Exactly one of Text and Error is set.
type GenerateReply struct {
	Status int     `json:"status"`
	Text   *string `json:"text,omitempty"`
	Error  *string `json:"error,omitempty"`
}

const (
	SubjectGenerate = "sachverhalt.generate"
	QueueGenerate   = "sachverhalt-workers"
)
