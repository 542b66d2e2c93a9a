// Package incident holds the incident form fields and renders them into the
// generation prompt.
package incident

import "net/url"

// Form keys shared by the front-end page, the function event body and the bus payload.
const (
	KeyTatort       = "tatort"
	KeyTathandlung  = "tathandlung"
	KeyZeugen       = "zeugen"
	KeyBeweismittel = "beweismittel"
)

// Fields describes one incident. Every field is optional.
type Fields struct {
	Tatort       string `json:"tatort"`
	Tathandlung  string `json:"tathandlung"`
	Zeugen       string `json:"zeugen"`
	Beweismittel string `json:"beweismittel"`
}

// FromValues extracts the fields from parsed form or query values. Missing
// keys become empty strings; only the first value of a repeated key is used.
func FromValues(values url.Values) Fields {
	return Fields{
		Tatort:       values.Get(KeyTatort),
		Tathandlung:  values.Get(KeyTathandlung),
		Zeugen:       values.Get(KeyZeugen),
		Beweismittel: values.Get(KeyBeweismittel),
	}
}

// FromMap is FromValues for single-valued parameter maps such as serverless
// query string parameters.
func FromMap(params map[string]string) Fields {
	return Fields{
		Tatort:       params[KeyTatort],
		Tathandlung:  params[KeyTathandlung],
		Zeugen:       params[KeyZeugen],
		Beweismittel: params[KeyBeweismittel],
	}
}

// ParseBody decodes an application/x-www-form-urlencoded body. Malformed
// pairs are skipped so that extraction never fails.
func ParseBody(body string) Fields {
	values, _ := url.ParseQuery(body)
	return FromValues(values)
}
