package whatsapp

// Meta Cloud API wire types, limited to what the dispatcher and media
// manager actually send and read back.

type textContent struct {
	Body string `json:"body"`
}

type sendMessageRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	RecipientType    string           `json:"recipient_type,omitempty"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textContent     `json:"text,omitempty"`
	Template         *templatePayload `json:"template,omitempty"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	SubType    string              `json:"sub_type,omitempty"`
	Index      string              `json:"index,omitempty"`
	Parameters []templateParameter `json:"parameters,omitempty"`
}

type templateParameter struct {
	Type  string        `json:"type"`
	Text  string        `json:"text,omitempty"`
	Image *imageContent `json:"image,omitempty"`
}

type imageContent struct {
	Link string `json:"link"`
}

type sendMessageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type uploadMediaResponse struct {
	ID string `json:"id"`
}

type mediaResponse struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

type deleteMediaResponse struct {
	Success bool `json:"success"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Media is the metadata the provider returns for a hosted asset.
type Media struct {
	ID       string
	URL      string
	MimeType string
	SHA256   string
	Size     int64
}
