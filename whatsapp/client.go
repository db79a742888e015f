package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/waops/wadispatch/apperror"
	"github.com/waops/wadispatch/config"
	"github.com/waops/wadispatch/models"
)

const messagingProduct = "whatsapp"

// Sender is the part of the client the dispatcher depends on.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendTemplate(ctx context.Context, to, name string, bodyParams, buttonParams []string, media *models.MediaRef) (string, error)
}

// Client is a thin SDK over the Cloud API send and media endpoints. It is
// stateless beyond configuration and safe for concurrent use.
type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	languageCode  string
	http          *http.Client
}

func NewClient(cfg config.WhatsAppConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		languageCode:  "en",
		http:          httpClient,
	}
}

// SendText delivers a free-form text message and returns the provider
// message ID.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	req := sendMessageRequest{
		MessagingProduct: messagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textContent{Body: body},
	}
	return c.sendMessage(ctx, "send_text", req)
}

// SendTemplate delivers an approved template message. Body params fill the
// template body placeholders in order; button params fill dynamic URL
// buttons by index; media, when present, becomes an image header component.
// Placeholder-count mismatches are the provider's to reject.
func (c *Client) SendTemplate(ctx context.Context, to, name string, bodyParams, buttonParams []string, media *models.MediaRef) (string, error) {
	tpl := &templatePayload{
		Name:     name,
		Language: templateLanguage{Code: c.languageCode},
	}
	if media != nil {
		tpl.Components = append(tpl.Components, templateComponent{
			Type: "header",
			Parameters: []templateParameter{
				{Type: "image", Image: &imageContent{Link: media.URL}},
			},
		})
	}
	if len(bodyParams) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range bodyParams {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: p})
		}
		tpl.Components = append(tpl.Components, comp)
	}
	for i, p := range buttonParams {
		tpl.Components = append(tpl.Components, templateComponent{
			Type:       "button",
			SubType:    "url",
			Index:      strconv.Itoa(i),
			Parameters: []templateParameter{{Type: "text", Text: p}},
		})
	}

	req := sendMessageRequest{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "template",
		Template:         tpl,
	}
	return c.sendMessage(ctx, "send_template", req)
}

func (c *Client) sendMessage(ctx context.Context, op string, payload sendMessageRequest) (string, error) {
	var resp sendMessageResponse
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	if err := c.postJSON(ctx, op, url, payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", apperror.Upstream(op, 0, errors.New("response contained no message id"))
	}
	return resp.Messages[0].ID, nil
}

// UploadMedia pushes raw bytes to the provider's media endpoint and returns
// the opaque media ID.
func (c *Client) UploadMedia(ctx context.Context, mediaType, fileName, mimeType string, data []byte) (string, error) {
	const op = "upload_media"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", messagingProduct); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if err := mw.WriteField("type", mediaType); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/%s/media", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadMediaResponse
	if err := c.do(op, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// GetMedia fetches the current URL and metadata for an uploaded asset.
func (c *Client) GetMedia(ctx context.Context, mediaID string) (*Media, error) {
	const op = "get_media"

	url := fmt.Sprintf("%s/%s", c.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var resp mediaResponse
	if err := c.do(op, req, &resp); err != nil {
		return nil, err
	}
	return &Media{
		ID:       resp.ID,
		URL:      resp.URL,
		MimeType: resp.MimeType,
		SHA256:   resp.SHA256,
		Size:     resp.FileSize,
	}, nil
}

// DeleteMedia removes an uploaded asset.
func (c *Client) DeleteMedia(ctx context.Context, mediaID string) (bool, error) {
	const op = "delete_media"

	url := fmt.Sprintf("%s/%s", c.baseURL, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	var resp deleteMediaResponse
	if err := c.do(op, req, &resp); err != nil {
		return false, err
	}
	return resp.Success, nil
}

func (c *Client) postJSON(ctx context.Context, op, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

// do executes the request and maps non-2xx responses and transport failures
// onto UpstreamError, classified by status class.
func (c *Client) do(op string, req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.Upstream(op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.Upstream(op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return apperror.Upstream(op, resp.StatusCode,
				fmt.Errorf("%s (code %d)", apiErr.Error.Message, apiErr.Error.Code))
		}
		return apperror.Upstream(op, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperror.Upstream(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
