package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// EventTypePayment is the only notification type that is reconciled.
const EventTypePayment = "payment"

// ProviderID accepts an identifier encoded either as a JSON string or a JSON
// number. Providers are inconsistent about which one they send.
type ProviderID string

func (p *ProviderID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProviderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("provider id must be a string or number: %w", err)
	}
	*p = ProviderID(n.String())
	return nil
}

func (p ProviderID) String() string { return string(p) }

// WebhookEvent is one inbound provider notification.
type WebhookEvent struct {
	ID          ProviderID `json:"id"`
	Type        string     `json:"type"`
	Action      string     `json:"action"`
	LiveMode    bool       `json:"live_mode"`
	DateCreated string     `json:"date_created"`
	UserID      ProviderID `json:"user_id"`
	Data        struct {
		ID ProviderID `json:"id"`
	} `json:"data"`
}

// PaymentID returns the trimmed data.id.
func (e *WebhookEvent) PaymentID() string {
	return strings.TrimSpace(e.Data.ID.String())
}

// MissingFields lists required fields that are absent.
func (e *WebhookEvent) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(e.Type) == "" {
		missing = append(missing, "type")
	}
	if e.PaymentID() == "" {
		missing = append(missing, "data.id")
	}
	return missing
}
