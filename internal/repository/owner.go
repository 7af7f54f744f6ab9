package repository

import (
	"context"

	"github.com/openclaw/wagate-server-go/internal/database"
	"github.com/openclaw/wagate-server-go/internal/model"
)

type OwnerRepository interface {
	FindByID(ctx context.Context, id string) (*model.Owner, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Owner, error)
	Create(ctx context.Context, params model.CreateOwnerParams) (*model.Owner, error)
}

type ownerRepo struct {
	db database.DBTX
}

func NewOwnerRepository(db database.DBTX) OwnerRepository {
	return &ownerRepo{db: db}
}

func (r *ownerRepo) FindByID(ctx context.Context, id string) (*model.Owner, error) {
	var owner model.Owner
	err := r.db.GetContext(ctx, &owner, `SELECT * FROM owners WHERE id = $1`, id)
	return HandleNotFound(&owner, err)
}

func (r *ownerRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Owner, error) {
	var owner model.Owner
	err := r.db.GetContext(ctx, &owner, `
		SELECT * FROM owners
		WHERE api_token_hash = $1 AND disabled_at IS NULL
	`, tokenHash)
	return HandleNotFound(&owner, err)
}

func (r *ownerRepo) Create(ctx context.Context, params model.CreateOwnerParams) (*model.Owner, error) {
	var owner model.Owner
	err := r.db.GetContext(ctx, &owner, `
		INSERT INTO owners (name, plan, api_token_hash, webhook_url)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.Name, params.Plan, params.APITokenHash, params.WebhookURL)
	if err != nil {
		return nil, err
	}
	return &owner, nil
}
