package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/waops/wadispatch/apperror"
	"github.com/waops/wadispatch/models"
	"github.com/waops/wadispatch/whatsapp"
)

// ContactResolver maps an opaque contact reference to a phone number.
type ContactResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// MediaResolver turns a stored asset ID into a fetchable URL.
type MediaResolver interface {
	URL(ctx context.Context, id string) (string, error)
}

// Dispatcher turns a job into one messaging API call: resolve the recipient,
// normalize the phone, pick text vs template, send.
type Dispatcher struct {
	client   whatsapp.Sender
	resolver ContactResolver
	media    MediaResolver
	log      logrus.FieldLogger
}

func NewDispatcher(client whatsapp.Sender, resolver ContactResolver, media MediaResolver, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		client:   client,
		resolver: resolver,
		media:    media,
		log:      log,
	}
}

// Dispatch sends one message and returns the provider-assigned message ID.
// Validation failures surface before any external call; resolver and client
// errors bubble to the caller for classification.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.Job) (string, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}

	phone := job.RecipientPhone
	if phone == "" {
		resolved, err := d.resolver.Resolve(ctx, job.ContactRef)
		if err != nil {
			return "", err
		}
		phone = resolved
	}
	phone = normalizePhone(phone)

	if job.IsTemplate() {
		media, err := d.resolveMedia(ctx, job.Media)
		if err != nil {
			return "", err
		}
		d.log.WithFields(logrus.Fields{
			"to":       phone,
			"template": job.TemplateName,
		}).Debug("Sending template message")
		return d.client.SendTemplate(ctx, phone, job.TemplateName,
			job.TemplateBodyParams, job.TemplateButtonParams, media)
	}

	d.log.WithField("to", phone).Debug("Sending text message")
	return d.client.SendText(ctx, phone, job.TextBody)
}

// resolveMedia passes absolute URLs through untouched. A ref without a
// scheme is a stored asset ID and gets resolved through the media manager.
func (d *Dispatcher) resolveMedia(ctx context.Context, ref *models.MediaRef) (*models.MediaRef, error) {
	if ref == nil {
		return nil, nil
	}
	if strings.Contains(ref.URL, "://") || d.media == nil {
		return ref, nil
	}
	url, err := d.media.URL(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	return &models.MediaRef{URL: url, Filename: ref.Filename}, nil
}

func validateJob(job models.Job) error {
	if job.RecipientPhone == "" && job.ContactRef == "" {
		return &apperror.ValidationError{Reason: "recipient phone or contact ref is required"}
	}
	hasText := job.TextBody != ""
	hasTemplate := job.TemplateName != ""
	if hasText == hasTemplate {
		return &apperror.ValidationError{Reason: "exactly one of text body or template name is required"}
	}
	return nil
}

// normalizePhone prefixes a + when absent. This is the only normalization
// performed; callers must supply a valid number.
func normalizePhone(phone string) string {
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}
