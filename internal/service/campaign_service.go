// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Templates    *TemplateService
	Resolver     *RecipientResolver
	Tracker      *DeliveryTracker
	Log          *logrus.Logger
}

// Preview is what staff see before confirming a send.
type Preview struct {
	Kind    ResolutionKind `json:"kind"`
	Count   int            `json:"count"`
	Message string         `json:"message"`
	Error   bool           `json:"error"`
}

// Result struct for Confirm
type ConfirmResult struct {
	CampaignID    int            `json:"campaign_id"`
	Kind          ResolutionKind `json:"kind"`
	Recipients    int            `json:"recipients"`
	Deferred      bool           `json:"deferred"` // records are created by the campaign_prepare consumer
	Created       int            `json:"created"`
	Queued        int            `json:"queued"`
	FailedBatches int            `json:"failed_batches"`
}

type CampaignDetails struct {
	model.Campaign
	Stats map[string]int `json:"stats"`
}

// ====================== Create / Preview ======================

func (s *CampaignService) build(ctx context.Context, sender *model.User, in FilterInput) (*model.Campaign, error) {
	if in.TemplateID != 0 {
		t, err := s.Templates.Get(ctx, in.TemplateID)
		if err != nil {
			return nil, err
		}
		in.Subject, in.HTMLMessage, in.TextMessage = t.Subject, t.HTMLMessage, t.TextMessage
	}

	spec, err := ValidateCampaignInput(in)
	if err != nil {
		return nil, err
	}
	return &model.Campaign{
		SenderID:    sender.ID,
		SenderEmail: sender.Email,
		Subject:     in.Subject,
		HTMLMessage: in.HTMLMessage,
		TextMessage: in.TextMessage,
		Target:      spec,
		ToMyself:    spec.ToMyself,
	}, nil
}

// Create stores a new unconfirmed campaign.
func (s *CampaignService) Create(ctx context.Context, sender *model.User, in FilterInput) (*model.Campaign, error) {
	c, err := s.build(ctx, sender, in)
	if err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.Log.WithFields(logrus.Fields{"campaign_id": c.ID, "sender_id": sender.ID}).Info("📝 campaign created")
	return c, nil
}

// Preview validates and resolves without persisting anything.
func (s *CampaignService) Preview(ctx context.Context, sender *model.User, in FilterInput) (*Preview, error) {
	c, err := s.build(ctx, sender, in)
	if err != nil {
		return nil, err
	}

	res, err := s.Resolver.Resolve(ctx, c.SenderEmail, c.Target)
	if err != nil && !appErrors.IsResolution(err) {
		return nil, err
	}
	p := &Preview{Kind: res.Kind, Count: res.Count()}
	p.Error = res.Kind == KindError
	p.Message = previewMessage(c.Subject, res)
	return p, nil
}

func previewMessage(subject string, res Resolution) string {
	switch res.Kind {
	case KindToSelf:
		return "Are you sure you want to send this message to yourself?"
	case KindToAll:
		return fmt.Sprintf("You are about to send %q to all users. Continue?", subject)
	case KindError:
		return "Recipients could not be determined, the enrollment directory is unavailable."
	}
	noun := "users"
	if res.Count() == 1 {
		noun = "user"
	}
	return fmt.Sprintf("You are about to send %q to %d %s. Continue?", subject, res.Count(), noun)
}

// ====================== Confirm ======================

// Confirm resolves recipients, then stores them and marks the campaign
// confirmed in one step. Record creation is scheduled afterwards and does not
// depend on the caller staying connected. A campaign can be confirmed once,
// only by its sender.
func (s *CampaignService) Confirm(ctx context.Context, campaignID, actorID int) (*ConfirmResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.SenderID != actorID {
		return nil, appErrors.NewForbidden("campaign %d belongs to another sender", campaignID)
	}
	if c.Confirmed {
		return nil, appErrors.NewConflict("campaign %d already confirmed", campaignID)
	}

	res, err := s.Resolver.ResolveCampaign(ctx, c)
	if err != nil {
		return nil, err
	}

	ok, err := s.CampaignRepo.Confirm(ctx, campaignID, actorID, res.Emails)
	if err != nil {
		return nil, fmt.Errorf("confirm campaign %d: %w", campaignID, err)
	}
	if !ok {
		return nil, appErrors.NewConflict("campaign %d already confirmed", campaignID)
	}

	prep, deferred, err := s.Tracker.Schedule(ctx, campaignID)
	if err != nil {
		s.Log.WithError(err).WithField("campaign_id", campaignID).Warn("⚠️ preparation incomplete, left for drain")
	}

	s.Log.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"kind":        res.Kind,
		"recipients":  res.Count(),
		"deferred":    deferred,
	}).Info("✅ campaign confirmed")

	return &ConfirmResult{
		CampaignID:    campaignID,
		Kind:          res.Kind,
		Recipients:    res.Count(),
		Deferred:      deferred,
		Created:       prep.Created,
		Queued:        prep.Queued,
		FailedBatches: prep.FailedBatches,
	}, nil
}

// ====================== Read ======================

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := s.CampaignRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign %d stats: %w", campaignID, err)
	}

	stats := map[string]int{
		"total":               0,
		model.DeliveryQueued: 0,
		model.DeliverySent:   0,
		model.DeliveryFailed: 0,
	}
	for status, n := range counts {
		if _, ok := stats[status]; ok {
			stats[status] = n
		}
		stats["total"] += n
	}

	return &CampaignDetails{Campaign: *campaign, Stats: stats}, nil
}
