package services

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waops/wadispatch/apperror"
	"github.com/waops/wadispatch/models"
)

type sentText struct {
	to, body string
}

type sentTemplate struct {
	to, name     string
	bodyParams   []string
	buttonParams []string
	media        *models.MediaRef
}

type fakeSender struct {
	texts     []sentText
	templates []sentTemplate
	err       error
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.texts = append(f.texts, sentText{to: to, body: body})
	return "wamid.text.1", nil
}

func (f *fakeSender) SendTemplate(ctx context.Context, to, name string, bodyParams, buttonParams []string, media *models.MediaRef) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.templates = append(f.templates, sentTemplate{
		to: to, name: name,
		bodyParams: bodyParams, buttonParams: buttonParams,
		media: media,
	})
	return "wamid.tpl.1", nil
}

type fakeResolver struct {
	phones map[string]string
	calls  int
}

func (f *fakeResolver) Resolve(ctx context.Context, ref string) (string, error) {
	f.calls++
	phone, ok := f.phones[ref]
	if !ok {
		return "", &apperror.NotFoundError{Ref: ref}
	}
	return phone, nil
}

type fakeMediaResolver struct {
	urls map[string]string
}

func (f *fakeMediaResolver) URL(ctx context.Context, id string) (string, error) {
	url, ok := f.urls[id]
	if !ok {
		return "", errors.New("asset not found")
	}
	return url, nil
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestDispatcher(sender *fakeSender, resolver *fakeResolver, media MediaResolver) *Dispatcher {
	return NewDispatcher(sender, resolver, media, testLogger())
}

func TestDispatchRejectsMissingRecipient(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender, &fakeResolver{}, nil)

	_, err := d.Dispatch(context.Background(), models.Job{TextBody: "hello"})

	var ve *apperror.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, sender.texts)
	assert.Empty(t, sender.templates)
}

func TestDispatchRejectsAmbiguousPayload(t *testing.T) {
	sender := &fakeSender{}
	d := newTestDispatcher(sender, &fakeResolver{}, nil)

	cases := map[string]models.Job{
		"both": {
			RecipientPhone: "+15551234567",
			TextBody:       "hello",
			TemplateName:   "welcome",
		},
		"neither": {
			RecipientPhone: "+15551234567",
		},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), job)

			var ve *apperror.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}
	assert.Empty(t, sender.texts)
	assert.Empty(t, sender.templates)
}

func TestDispatchTextSkipsContactLookup(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{phones: map[string]string{}}
	d := newTestDispatcher(sender, resolver, nil)

	id, err := d.Dispatch(context.Background(), models.Job{
		RecipientPhone: "+15551234567",
		TextBody:       "Hi there",
	})

	require.NoError(t, err)
	assert.Equal(t, "wamid.text.1", id)
	assert.Equal(t, 0, resolver.calls)
	require.Len(t, sender.texts, 1)
	assert.Equal(t, sentText{to: "+15551234567", body: "Hi there"}, sender.texts[0])
}

func TestDispatchTemplateResolvesAndNormalizes(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{phones: map[string]string{"c1": "9198xxxxxxx"}}
	d := newTestDispatcher(sender, resolver, nil)

	_, err := d.Dispatch(context.Background(), models.Job{
		ContactRef:         "c1",
		TemplateName:       "welcome",
		TemplateBodyParams: []string{"Asha"},
	})

	require.NoError(t, err)
	require.Len(t, sender.templates, 1)
	got := sender.templates[0]
	assert.Equal(t, "+9198xxxxxxx", got.to)
	assert.Equal(t, "welcome", got.name)
	assert.Equal(t, []string{"Asha"}, got.bodyParams)
	assert.Empty(t, got.buttonParams)
	assert.Nil(t, got.media)
}

func TestDispatchUnknownContact(t *testing.T) {
	sender := &fakeSender{}
	resolver := &fakeResolver{phones: map[string]string{}}
	d := newTestDispatcher(sender, resolver, nil)

	_, err := d.Dispatch(context.Background(), models.Job{
		ContactRef: "ghost",
		TextBody:   "hello",
	})

	var ne *apperror.NotFoundError
	require.ErrorAs(t, err, &ne)
	assert.Empty(t, sender.texts)
}

func TestDispatchResolvesStoredMediaRef(t *testing.T) {
	sender := &fakeSender{}
	media := &fakeMediaResolver{urls: map[string]string{
		"asset-1": "https://cdn.example.com/asset-1",
	}}
	d := newTestDispatcher(sender, &fakeResolver{}, media)

	_, err := d.Dispatch(context.Background(), models.Job{
		RecipientPhone: "+15551234567",
		TemplateName:   "promo",
		Media:          &models.MediaRef{URL: "asset-1", Filename: "banner.jpg"},
	})

	require.NoError(t, err)
	require.Len(t, sender.templates, 1)
	require.NotNil(t, sender.templates[0].media)
	assert.Equal(t, "https://cdn.example.com/asset-1", sender.templates[0].media.URL)
	assert.Equal(t, "banner.jpg", sender.templates[0].media.Filename)
}

func TestDispatchPassesAbsoluteMediaURLThrough(t *testing.T) {
	sender := &fakeSender{}
	media := &fakeMediaResolver{urls: map[string]string{}}
	d := newTestDispatcher(sender, &fakeResolver{}, media)

	ref := &models.MediaRef{URL: "https://example.com/pic.png"}
	_, err := d.Dispatch(context.Background(), models.Job{
		RecipientPhone: "+15551234567",
		TemplateName:   "promo",
		Media:          ref,
	})

	require.NoError(t, err)
	require.Len(t, sender.templates, 1)
	assert.Equal(t, ref, sender.templates[0].media)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+919999999999", normalizePhone("919999999999"))
	assert.Equal(t, "+919999999999", normalizePhone("+919999999999"))
}
