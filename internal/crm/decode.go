package crm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"amoreport/internal/models"
)

var jsonAPI = sonic.Config{UseNumber: true, CopyString: true}.Froze()

type leadsEnvelope struct {
	Embedded *struct {
		Leads *[]any `json:"leads"`
	} `json:"_embedded"`
}

// decodeLeads parses the /api/v4/leads body. The envelope must be intact;
// individual leads with unusable fields are normalized rather than rejected.
func decodeLeads(body []byte) ([]models.Deal, error) {
	var envelope leadsEnvelope
	if err := jsonAPI.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode leads: %w", err)
	}
	if envelope.Embedded == nil || envelope.Embedded.Leads == nil {
		return nil, errors.New("response has no _embedded.leads list")
	}

	raw := *envelope.Embedded.Leads
	deals := make([]models.Deal, 0, len(raw))
	for _, item := range raw {
		lead, ok := item.(map[string]any)
		if !ok {
			continue
		}
		deals = append(deals, models.Deal{
			ID:        intField(lead["id"]),
			CreatedAt: intField(lead["created_at"]),
			OwnerID:   idField(lead["responsible_user_id"]),
			Amount:    amountField(lead["price"]),
		})
	}
	return deals, nil
}

func intField(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// idField приводит целочисленные id к одной форме: 1, 1.0, "1" и "1e0"
// дают "1". Ноль считается отсутствием id.
func idField(v any) string {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return ""
	}

	n, err := decimal.NewFromString(raw)
	if err != nil || !n.IsInteger() {
		return raw
	}
	if n.IsZero() {
		return ""
	}
	return n.Truncate(0).String()
}

// amountField never returns a negative value.
func amountField(v any) decimal.Decimal {
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return decimal.Zero
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil || amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}
