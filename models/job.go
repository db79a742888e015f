package models

// MediaRef points a template message at an already-hosted media asset.
type MediaRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// Job describes one outbound WhatsApp message. It is published as plain JSON
// on the job queue, consumed exactly once and never mutated.
//
// Exactly one of RecipientPhone/ContactRef identifies the recipient, and
// exactly one of TextBody/TemplateName selects the payload kind.
type Job struct {
	RecipientPhone       string    `json:"recipient_phone,omitempty"`
	ContactRef           string    `json:"contact_ref,omitempty"`
	TextBody             string    `json:"text_body,omitempty"`
	TemplateName         string    `json:"template_name,omitempty"`
	TemplateBodyParams   []string  `json:"template_body_params,omitempty"`
	TemplateButtonParams []string  `json:"template_button_params,omitempty"`
	Media                *MediaRef `json:"media,omitempty"`
}

// IsTemplate reports whether the job carries a template payload.
func (j Job) IsTemplate() bool {
	return j.TemplateName != ""
}

// DeadLetter wraps a job that exhausted processing, for the DLQ queue.
type DeadLetter struct {
	Job       Job    `json:"job"`
	Reason    string `json:"reason"`
	ErrorType string `json:"error_type"`
	Attempts  int    `json:"attempts"`
	FailedAt  string `json:"failed_at"`
}
