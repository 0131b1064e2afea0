package flip

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"

	"payout/internal/domain"
)

type callbackData struct {
	ID     flexID `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
}

// WebhookParser reads flip disbursement callbacks: a form body whose
// "data" field holds the disbursement as JSON and whose "token" field
// holds the callback token.
type WebhookParser struct {
	validate *validator.Validate
}

func NewWebhookParser() *WebhookParser {
	return &WebhookParser{validate: validator.New()}
}

func (w *WebhookParser) ParseWebhook(raw []byte) (*domain.WebhookEvent, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	data := form.Get("data")
	token := form.Get("token")
	if data == "" || token == "" {
		return nil, fmt.Errorf("%w: missing data or token", domain.ErrInvalidPayload)
	}

	var cb callbackData
	if err := json.Unmarshal([]byte(data), &cb); err != nil {
		return nil, fmt.Errorf("%w: data is not json: %v", domain.ErrInvalidPayload, err)
	}
	if err := w.validate.Struct(cb); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	payload := map[string]any{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("%w: data is not an object: %v", domain.ErrInvalidPayload, err)
	}

	return &domain.WebhookEvent{
		Provider:  domain.ProviderFlip,
		Reference: string(cb.ID),
		RawStatus: cb.Status,
		AuthToken: token,
		Payload:   payload,
	}, nil
}
