package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/mailer"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/queue"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

const (
	AnalyticsFilename = "email_analytics.csv"
	analyticsDate     = "02.01.2006"
	analyticsTime     = "15:04"
	utf8BOM           = "\ufeff"
)

var analyticsHeader = []string{"Date", "Time", "Subject", "Recipients", "Delivered", "Unsubscriptions"}

type AnalyticsService struct {
	Campaigns repository.CampaignRepositoryInterface
	Users     repository.UserRepositoryInterface
	Transport mailer.Transport
	Queue     queue.Queue
	MaxSync   int
	From      string
	Location  *time.Location // nil means UTC
	Log       *logrus.Logger
}

// Export writes the report to w when it is small enough; otherwise it queues
// an email export for userID and reports deferred.
func (s *AnalyticsService) Export(ctx context.Context, userID int, w io.Writer) (deferred bool, err error) {
	n, err := s.Campaigns.Count(ctx)
	if err != nil {
		return false, err
	}
	if n <= s.MaxSync {
		return false, s.WriteCSV(ctx, w)
	}
	if err := s.Queue.Publish(queue.TopicAnalyticsExport, queue.Job{UserID: userID}); err != nil {
		return false, fmt.Errorf("enqueue analytics export: %w", err)
	}
	s.Log.WithFields(logrus.Fields{"user_id": userID, "campaigns": n}).Info("📊 analytics export deferred")
	return true, nil
}

// WriteCSV writes one row per campaign, newest first, semicolon separated
// and prefixed with a UTF-8 BOM.
func (s *AnalyticsService) WriteCSV(ctx context.Context, w io.Writer) error {
	campaigns, err := s.Campaigns.ListAll(ctx)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(analyticsHeader); err != nil {
		return err
	}
	for _, c := range campaigns {
		if err := cw.Write(s.row(c)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *AnalyticsService) row(c *model.Campaign) []string {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	created := c.CreatedAt.In(loc)
	return []string{
		created.Format(analyticsDate),
		created.Format(analyticsTime),
		c.Subject,
		strconv.Itoa(c.RecipientsNumber),
		strconv.Itoa(c.DeliveredNumber),
		strconv.Itoa(c.Unsubscriptions),
	}
}

// SendExport builds the report and mails it to the requesting user.
func (s *AnalyticsService) SendExport(ctx context.Context, userID int) error {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := s.WriteCSV(ctx, &buf); err != nil {
		return fmt.Errorf("build analytics: %w", err)
	}

	err = s.Transport.Send(ctx, mailer.Message{
		From:    s.From,
		To:      user.Email,
		Subject: "Email analytics",
		Text:    "The requested mailing analytics report is attached.",
		Attachments: []mailer.Attachment{{
			Filename:    AnalyticsFilename,
			ContentType: "text/csv",
			Data:        buf.Bytes(),
		}},
	})
	if err != nil {
		return fmt.Errorf("send analytics to user %d: %w", userID, err)
	}
	s.Log.WithField("user_id", userID).Info("📊 analytics export sent")
	return nil
}

// IsSync reports whether Export would answer inline.
func (s *AnalyticsService) IsSync(ctx context.Context) (bool, error) {
	n, err := s.Campaigns.Count(ctx)
	if err != nil {
		return false, err
	}
	return n <= s.MaxSync, nil
}
