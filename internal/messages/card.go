package messages

// Card is a channel-neutral chat card. Options become submit buttons; a
// non-empty InputPlaceholder adds a free-text box.
type Card struct {
	Header           string   `json:"header,omitempty"`
	Title            string   `json:"title,omitempty"`
	Body             string   `json:"body"`
	Options          []string `json:"options,omitempty"`
	InputPlaceholder string   `json:"input_placeholder,omitempty"`
}

// Text flattens the card for channels that only carry plain text.
func (c Card) Text() string {
	out := ""
	for _, part := range []string{c.Header, c.Title, c.Body} {
		if part == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += part
	}
	return out
}
