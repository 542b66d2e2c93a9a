package generate

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
)

const (
	// ProviderErrorPrefix precedes every provider failure message.
	ProviderErrorPrefix = "Fehler bei der API-Anfrage: "
	// NoDataMessage is returned when a function invocation carries no payload.
	NoDataMessage = "Keine Daten in der Anfrage gefunden."
	// InvalidRequestPrefix precedes messages about payloads that cannot be decoded.
	InvalidRequestPrefix    = "Ungültige Anfrage: "
	MethodNotAllowedMessage = "Methode nicht erlaubt."
)

// Envelope is a status code plus a JSON body holding exactly one of "text"
// or "error". Build it with Success or Failure.
type Envelope struct {
	status  int
	text    string
	message string
	failed  bool
}

// Success wraps generated text with status 200.
func Success(text string) Envelope {
	return Envelope{status: http.StatusOK, text: text}
}

// Failure wraps an error message with the given status.
func Failure(status int, message string) Envelope {
	return Envelope{status: status, message: message, failed: true}
}

// NoData is the 400 reply for invocations without any payload.
func NoData() Envelope {
	return Failure(http.StatusBadRequest, NoDataMessage)
}

// ConfigFailure is the 500 reply used while the provider is not configured.
func ConfigFailure(err error) Envelope {
	return Failure(http.StatusInternalServerError, err.Error())
}

// FromResult maps a gateway result onto 200 or 500.
func FromResult(r Result) Envelope {
	if r.Err != nil {
		return Failure(http.StatusInternalServerError, ProviderErrorPrefix+r.Err.Error())
	}
	return Success(r.Text)
}

func (e Envelope) Status() int { return e.status }

// Text returns the generated text and whether the envelope is a success.
func (e Envelope) Text() (string, bool) { return e.text, !e.failed }

// Error returns the error message and whether the envelope is a failure.
func (e Envelope) Error() (string, bool) { return e.message, e.failed }

type wireEnvelope struct {
	Text  *string `json:"text,omitempty"`
	Error *string `json:"error,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	var w wireEnvelope
	if e.failed {
		w.Error = &e.message
	} else {
		w.Text = &e.text
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON rejects bodies that carry both or neither field. The status
// is not part of the body and is left at zero.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Text != nil && w.Error != nil:
		return errors.New("envelope carries both text and error")
	case w.Text != nil:
		*e = Envelope{text: *w.Text}
	case w.Error != nil:
		*e = Envelope{message: *w.Error, failed: true}
	default:
		return errors.New("envelope carries neither text nor error")
	}
	return nil
}

// WithStatus returns a copy carrying status, used after decoding a body whose
// status travelled separately.
func (e Envelope) WithStatus(status int) Envelope {
	e.status = status
	return e
}

// Body renders the JSON body.
func (e Envelope) Body() []byte {
	// a struct of two string pointers always encodes
	b, _ := e.MarshalJSON()
	return b
}

// Write writes the envelope as an HTTP JSON response.
func (e Envelope) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.status)
	_, _ = w.Write(e.Body())
}
