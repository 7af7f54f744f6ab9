package model

import "time"

type Owner struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Plan         Plan       `db:"plan" json:"plan"`
	APITokenHash string     `db:"api_token_hash" json:"-"`
	WebhookURL   *string    `db:"webhook_url" json:"webhookUrl,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt   *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}

type CreateOwnerParams struct {
	Name         string
	Plan         Plan
	APITokenHash string
	WebhookURL   *string
}
