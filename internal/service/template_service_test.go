package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/service"
)

func TestTemplateService_GetIsCached(t *testing.T) {
	repo := &MockTemplateRepo{templates: map[int]*model.Template{
		1: {ID: 1, Slug: "welcome", Subject: "Hi {{.User.FirstName}}"},
	}}
	svc := service.NewTemplateService(repo, time.Minute)
	defer svc.Stop()

	for i := 0; i < 3; i++ {
		tpl, err := svc.Get(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "welcome", tpl.Slug)
	}
	assert.Equal(t, 1, repo.lookups)

	_, err := svc.Get(context.Background(), 42)
	assert.True(t, appErrors.IsNotFound(err))

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRender(t *testing.T) {
	data := service.RenderContext{User: &model.User{FirstName: "Ann"}, Email: "ann@example.com"}

	text, err := service.RenderText("Hi {{.User.FirstName}} <{{.Email}}>", data)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann <ann@example.com>", text)

	body, err := service.RenderHTML("<p>{{.User.FirstName}}</p>", service.RenderContext{User: &model.User{FirstName: "<b>"}})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;</p>", body)

	_, err = service.RenderText("{{.Nope}}", data)
	assert.Error(t, err)
}
