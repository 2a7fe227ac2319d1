package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/JonMunkholm/fieldsync/internal/core"
)

// Webhook request headers.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderSignature = "X-Webhook-Signature"
)

// TestEvent is sent by the admin CLI to check an endpoint.
const TestEvent = "test.webhook"

// Payload is the JSON body of a notification.
type Payload struct {
	EventID   string        `json:"event_id"`
	Event     string        `json:"event"`
	Model     string        `json:"model"`
	RecordID  int64         `json:"record_id"`
	Timestamp core.DateTime `json:"timestamp"`
	Data      any           `json:"data"`
}

// NewPayload wraps ev with a fresh event id.
func NewPayload(ev core.Event) Payload {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Payload{
		EventID:   uuid.NewString(),
		Event:     ev.Name,
		Model:     ev.Model,
		RecordID:  ev.RecordID,
		Timestamp: core.DateTime(ts),
		Data:      ev.Data,
	}
}

// Marshal encodes the payload.
func (p Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload %s: %w", p.EventID, err)
	}
	return b, nil
}

// Sign returns hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify reports whether signature matches body under secret.
func verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

// Send makes one POST of body to sub.URL, bounded by timeout. Any response
// outside 2xx is a failure. Send does not retry.
func Send(ctx context.Context, client *http.Client, timeout time.Duration, sub core.Subscription, p Payload, body []byte) core.DeliveryOutcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return core.DeliveryOutcome{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fieldsync-webhook/1")
	req.Header.Set(HeaderEvent, p.Event)
	req.Header.Set(HeaderDelivery, p.EventID)
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(sub.Secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return core.DeliveryOutcome{Error: err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	outcome := core.DeliveryOutcome{Status: resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return outcome
}
