package models

import (
	"github.com/shopspring/decimal"
)

// Deal: одна сделка из CRM в том виде, в каком её видит отчёт.
type Deal struct {
	ID        int64           `json:"id"`
	CreatedAt int64           `json:"created_at"` // unix-секунды, 0 если поле не пришло
	OwnerID   string          `json:"owner_id"`   // responsible_user_id, "" если не пришло
	Amount    decimal.Decimal `json:"amount"`     // никогда не отрицательная
}

// Reportable: у сделки есть и время создания, и ответственный.
func (d Deal) Reportable() bool {
	return d.CreatedAt != 0 && d.OwnerID != ""
}
