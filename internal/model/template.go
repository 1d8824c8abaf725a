package model

// Template is a reusable subject/HTML/text triple.
type Template struct {
	ID          int    `db:"id" json:"id"`
	Slug        string `db:"slug" json:"slug"`
	Subject     string `db:"subject" json:"subject"`
	HTMLMessage string `db:"html_message" json:"html_message"`
	TextMessage string `db:"text_message" json:"text_message"`
}
