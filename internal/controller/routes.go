package controller

import (
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/repository"
)

// Mount registers the staff API on r behind StaffOnly.
func Mount(r chi.Router, users repository.UserRepositoryInterface, log *logrus.Logger,
	campaigns *CampaignController, analytics *AnalyticsController, templates *TemplateController) {
	r.Group(func(r chi.Router) {
		r.Use(StaffOnly(users, log))

		// Campaign routes
		r.Post("/campaigns", campaigns.CreateCampaign)
		r.Post("/campaigns/preview", campaigns.PreviewCampaign)
		r.Get("/campaigns", campaigns.ListCampaigns)
		r.Get("/campaigns/{id}", campaigns.GetCampaignDetails)
		r.Post("/campaigns/{id}/confirm", campaigns.ConfirmCampaign)

		r.Get("/analytics", analytics.ListAnalytics)
		r.Get("/analytics/export", analytics.ExportMode)
		r.Post("/analytics/export", analytics.Export)

		r.Get("/templates", templates.ListTemplates)
		r.Get("/templates/{id}", templates.GetTemplate)
	})
}
