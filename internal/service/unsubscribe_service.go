package service

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/metrics"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

type UnsubscribeService struct {
	Users     repository.UserRepositoryInterface
	Optouts   repository.OptoutRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Log       *logrus.Logger
}

// Unsubscribe opts the token's owner out of bulk mail. campaignParam is the
// raw ?id= value; when present it must name an existing campaign, whose
// unsubscriptions grow only if this call created the optout.
func (s *UnsubscribeService) Unsubscribe(ctx context.Context, token, campaignParam string) error {
	email, err := DecodeUnsubscribeToken(token)
	if err != nil {
		return err
	}

	campaignID := 0
	if campaignParam != "" {
		campaignID, err = strconv.Atoi(campaignParam)
		if err != nil || campaignID <= 0 {
			return appErrors.NewNotFound("campaign %q", campaignParam)
		}
		if _, err := s.Campaigns.GetByID(ctx, campaignID); err != nil {
			return err
		}
	}

	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	created, err := s.Optouts.Unsubscribe(ctx, user.ID, campaignID)
	if err != nil {
		return err
	}
	if created {
		metrics.Unsubscriptions.Inc()
		s.Log.WithFields(logrus.Fields{
			"user_id":     user.ID,
			"campaign_id": campaignID,
		}).Info("📭 user unsubscribed")
	}
	return nil
}

// OptoutStatus reports whether the user still receives bulk mail.
func (s *UnsubscribeService) OptoutStatus(ctx context.Context, username string) (bool, error) {
	user, err := s.Users.GetByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	opted, err := s.Optouts.Exists(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return !opted, nil
}

// SetOptoutStatus subscribes or unsubscribes the user and returns the new
// state. Changes made here are not attributed to any campaign.
func (s *UnsubscribeService) SetOptoutStatus(ctx context.Context, username string, subscribed bool) (bool, error) {
	user, err := s.Users.GetByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	if subscribed {
		if err := s.Optouts.Resubscribe(ctx, user.ID); err != nil {
			return false, err
		}
		return true, nil
	}
	if _, err := s.Optouts.Unsubscribe(ctx, user.ID, 0); err != nil {
		return false, err
	}
	return false, nil
}
