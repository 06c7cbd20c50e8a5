package models

// ParseRequest is the input to the HTML parser.
type ParseRequest struct {
	URL  string
	HTML string

	// ContentType is the response Content-Type; text/plain bodies skip readability.
	ContentType string `json:"content_type,omitempty"`
}
