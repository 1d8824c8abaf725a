// internal/service/template_service.go
package service

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

// RenderContext is what campaign subject and bodies see when rendered,
// e.g. {{.User.FirstName}} or {{.Email}}.
type RenderContext struct {
	User  *model.User
	Email string
}

func emptyRenderContext() RenderContext {
	return RenderContext{User: &model.User{}}
}

func RenderText(tmpl string, data RenderContext) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := texttemplate.New("text").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func RenderHTML(tmpl string, data RenderContext) (string, error) {
	if tmpl == "" {
		return "", nil
	}
	t, err := htmltemplate.New("html").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// TemplateService serves stored campaign templates through a short-lived cache.
type TemplateService struct {
	Repo  repository.TemplateRepositoryInterface
	cache *ttlcache.Cache[int, *model.Template]
}

func NewTemplateService(repo repository.TemplateRepositoryInterface, ttl time.Duration) *TemplateService {
	cache := ttlcache.New[int, *model.Template](
		ttlcache.WithTTL[int, *model.Template](ttl),
		ttlcache.WithDisableTouchOnHit[int, *model.Template](),
	)
	go cache.Start()
	return &TemplateService{Repo: repo, cache: cache}
}

func (s *TemplateService) Get(ctx context.Context, id int) (*model.Template, error) {
	if item := s.cache.Get(id); item != nil {
		return item.Value(), nil
	}
	t, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	s.cache.Set(id, t, ttlcache.DefaultTTL)
	return t, nil
}

func (s *TemplateService) List(ctx context.Context) ([]model.Template, error) {
	return s.Repo.List(ctx)
}

func (s *TemplateService) Stop() {
	s.cache.Stop()
}
