package midtrans

import (
	"bytes"
	"encoding/json"
	"fmt"

	"payout/internal/domain"
)

// WebhookParser reads Iris payout notifications. Production sends the
// reference as "reference_no", older and sandbox payloads use "id" or
// "disbursement_id".
type WebhookParser struct{}

func NewWebhookParser() *WebhookParser {
	return &WebhookParser{}
}

func (WebhookParser) ParseWebhook(raw []byte) (*domain.WebhookEvent, error) {
	// numbers stay json.Number so large ids keep every digit
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	payload := map[string]any{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", domain.ErrInvalidPayload)
	}

	ref := firstString(payload, "id", "disbursement_id", "reference_no")
	status := firstString(payload, "status")
	if ref == "" || status == "" {
		return nil, fmt.Errorf("%w: missing reference or status", domain.ErrInvalidPayload)
	}

	return &domain.WebhookEvent{
		Provider:  domain.ProviderMidtrans,
		Reference: ref,
		RawStatus: status,
		Payload:   payload,
	}, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
