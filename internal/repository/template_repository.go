package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Template, error)
	List(ctx context.Context) ([]model.Template, error)
}

type TemplateRepository struct {
	DB *sqlx.DB
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int) (*model.Template, error) {
	var t model.Template
	err := r.DB.GetContext(ctx, &t,
		`SELECT id, slug, subject, html_message, text_message FROM templates WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("template %d", id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) List(ctx context.Context) ([]model.Template, error) {
	templates := []model.Template{}
	err := r.DB.SelectContext(ctx, &templates,
		`SELECT id, slug, subject, html_message, text_message FROM templates ORDER BY slug`)
	return templates, err
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
