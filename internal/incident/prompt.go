package incident

import "strings"

const (
	promptTitle       = "Prompt zur Erstellung eines juristischen Sachverhaltstextes"
	promptInstruction = "Bitte fülle die folgenden Punkte mit den relevanten Informationen aus, um einen vollständigen und juristisch sicheren Sachverhaltstext zu erstellen. Antworte mit den reinen Fakten, die dir vorliegen."
)

// Prompt renders the fields into the fixed German template. Values are
// inserted verbatim.
func (f Fields) Prompt() string {
	var b strings.Builder
	b.Grow(len(promptTitle) + len(promptInstruction) + len(f.Tatort) + len(f.Tathandlung) + len(f.Zeugen) + len(f.Beweismittel) + 128)
	b.WriteString(promptTitle)
	b.WriteByte('\n')
	b.WriteString(promptInstruction)
	b.WriteByte('\n')
	b.WriteString("1. Tatzeit und -ort: ")
	b.WriteString(f.Tatort)
	b.WriteByte('\n')
	b.WriteString("2. Tathandlung: ")
	b.WriteString(f.Tathandlung)
	b.WriteByte('\n')
	b.WriteString("3. Zeugen und Festnahme: ")
	b.WriteString(f.Zeugen)
	b.WriteByte('\n')
	b.WriteString("4. Beweismittel: ")
	b.WriteString(f.Beweismittel)
	return b.String()
}
