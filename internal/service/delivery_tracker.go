package service

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modfin/henry/slicez"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/mailer"
	"github.com/unclebandit/supportmail-backend/internal/metrics"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/queue"
	"github.com/unclebandit/supportmail-backend/internal/repository"
)

type TrackerConfig struct {
	BatchSize             int
	Concurrency           int
	BaseURL               string
	PlatformName          string
	From                  string
	ListUnsubscribeHeader bool
	ClaimLease            time.Duration
}

// DeliveryTracker turns a resolved recipient list into delivery records and
// sends each one exactly once.
type DeliveryTracker struct {
	Campaigns  repository.CampaignRepositoryInterface
	Deliveries repository.DeliveryRepositoryInterface
	Users      repository.UserRepositoryInterface
	Transport  mailer.Transport
	Queue      queue.Queue // nil leaves records for Drain
	Config     TrackerConfig
	Log        *logrus.Logger
}

type PrepareResult struct {
	Created       int `json:"created"`
	Queued        int `json:"queued"`
	FailedBatches int `json:"failed_batches"`
}

type DrainResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

func (t *DeliveryTracker) batchSize() int {
	if t.Config.BatchSize < 1 {
		return 100
	}
	return t.Config.BatchSize
}

func (t *DeliveryTracker) claimLease() time.Duration {
	if t.Config.ClaimLease <= 0 {
		return 10 * time.Minute
	}
	return t.Config.ClaimLease
}

func (t *DeliveryTracker) concurrency() int {
	if t.Config.Concurrency < 1 {
		return 1
	}
	return t.Config.Concurrency
}

// ====================== Prepare ======================

// Prepare creates queued records in batches, one transaction per batch, and
// publishes every created record id. A failed batch is logged and skipped.
func (t *DeliveryTracker) Prepare(ctx context.Context, campaignID int, emails []string) (PrepareResult, error) {
	var res PrepareResult
	size := t.batchSize()

	for start := 0; start < len(emails); start += size {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + size
		if end > len(emails) {
			end = len(emails)
		}

		ids, err := t.Deliveries.CreateBatch(ctx, campaignID, emails[start:end])
		if err != nil {
			t.Log.WithError(err).WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"batch_start": start,
			}).Error("❌ failed to create delivery batch")
			res.FailedBatches++
			continue
		}
		res.Created += len(ids)

		if t.Queue == nil {
			continue
		}
		for _, id := range ids {
			if err := t.Queue.Publish(queue.TopicCampaignSends, queue.Job{RecordID: id}); err != nil {
				t.Log.WithError(err).WithField("record_id", id).Warn("⚠️ failed to enqueue delivery, left for drain")
				continue
			}
			res.Queued++
		}
	}

	t.Log.WithFields(logrus.Fields{
		"campaign_id":    campaignID,
		"created":        res.Created,
		"queued":         res.Queued,
		"failed_batches": res.FailedBatches,
	}).Info("📦 campaign prepared")
	return res, nil
}

// Schedule hands record creation for a freshly confirmed campaign to the
// queue. Without a queue, or when publishing fails, records are created
// inline on a context detached from the caller, so a dropped request cannot
// leave a confirmed campaign half prepared. Anything still missing is picked
// up by Drain.
func (t *DeliveryTracker) Schedule(ctx context.Context, campaignID int) (res PrepareResult, deferred bool, err error) {
	if t.Queue != nil {
		err := t.Queue.Publish(queue.TopicCampaignPrepare, queue.Job{CampaignID: campaignID})
		if err == nil {
			return res, true, nil
		}
		t.Log.WithError(err).WithField("campaign_id", campaignID).Warn("⚠️ failed to enqueue prepare, preparing inline")
	}
	res, err = t.PrepareCampaign(context.WithoutCancel(ctx), campaignID)
	return res, false, err
}

// PrepareCampaign creates delivery records for the recipients stored at
// confirmation. It is safe to repeat: existing records are skipped and the
// campaign is marked prepared only once every batch went through.
func (t *DeliveryTracker) PrepareCampaign(ctx context.Context, campaignID int) (PrepareResult, error) {
	c, err := t.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return PrepareResult{}, err
	}
	if !c.Confirmed {
		return PrepareResult{}, appErrors.NewConflict("campaign %d is not confirmed", campaignID)
	}
	if c.PreparedAt != nil {
		return PrepareResult{}, nil
	}

	emails, err := t.Campaigns.Recipients(ctx, campaignID)
	if err != nil {
		return PrepareResult{}, fmt.Errorf("load recipients of campaign %d: %w", campaignID, err)
	}
	res, err := t.Prepare(ctx, campaignID, emails)
	if err != nil {
		return res, err
	}
	if res.FailedBatches > 0 {
		return res, nil
	}
	if err := t.Campaigns.MarkPrepared(ctx, campaignID); err != nil {
		return res, fmt.Errorf("mark campaign %d prepared: %w", campaignID, err)
	}
	return res, nil
}

// ====================== Process ======================

// Process sends one record. Terminal records are left untouched, so a
// redelivered job never sends twice.
func (t *DeliveryTracker) Process(ctx context.Context, recordID int) error {
	_, err := t.process(ctx, recordID)
	return err
}

// process returns the status the record ended in, or "" when it was
// already terminal or another worker holds it.
func (t *DeliveryTracker) process(ctx context.Context, recordID int) (string, error) {
	rec, err := t.Deliveries.GetByID(ctx, recordID)
	if err != nil {
		return "", err
	}
	if rec.Terminal() {
		return "", nil
	}

	claimed, err := t.Deliveries.Claim(ctx, rec.ID, time.Now().Add(-t.claimLease()))
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", nil
	}

	campaign, err := t.Campaigns.GetByID(ctx, rec.CampaignID)
	if err != nil {
		return "", err
	}

	user, err := t.Users.GetByEmail(ctx, rec.Email)
	switch {
	case appErrors.IsNotFound(err):
		user = &model.User{Email: rec.Email}
	case err != nil:
		return "", err
	}

	status, lastError := model.DeliverySent, ""
	msg, err := t.compose(campaign, rec, user)
	if err == nil {
		start := time.Now()
		err = t.Transport.Send(ctx, msg)
		metrics.SendDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		status, lastError = model.DeliveryFailed, err.Error()
		t.Log.WithError(err).WithFields(logrus.Fields{
			"record_id":   rec.ID,
			"campaign_id": rec.CampaignID,
		}).Warn("⚠️ delivery failed")
	}

	done, err := t.Deliveries.Complete(ctx, rec.ID, status, lastError)
	if err != nil {
		return "", fmt.Errorf("complete record %d: %w", rec.ID, err)
	}
	if !done {
		return "", nil
	}
	metrics.Deliveries.WithLabelValues(status).Inc()
	return status, nil
}

func (t *DeliveryTracker) unsubscribeURL(email string, campaignID int) string {
	return fmt.Sprintf("%s/unsubscribe/%s?id=%s",
		t.Config.BaseURL, EncodeUnsubscribeToken(email), strconv.Itoa(campaignID))
}

func (t *DeliveryTracker) compose(c *model.Campaign, rec *model.DeliveryRecord, user *model.User) (mailer.Message, error) {
	data := RenderContext{User: user, Email: rec.Email}

	subject, err := RenderText(c.Subject, data)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("render subject: %w", err)
	}
	text, err := RenderText(c.TextMessage, data)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("render text: %w", err)
	}
	body, err := RenderHTML(c.HTMLMessage, data)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("render html: %w", err)
	}

	link := t.unsubscribeURL(rec.Email, c.ID)
	if text != "" {
		text += fmt.Sprintf("\n\nTo unsubscribe from %s mailings follow the link %s", t.Config.PlatformName, link)
	}
	body += fmt.Sprintf(`<br/><p>To unsubscribe from %s mailings follow <a href="%s">this link</a></p>`,
		html.EscapeString(t.Config.PlatformName), html.EscapeString(link))

	headers := map[string]string{
		"Message-ID": fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain(t.Config.From)),
	}
	if t.Config.ListUnsubscribeHeader {
		headers["List-Unsubscribe"] = "<" + link + ">"
	}

	return mailer.Message{
		From:    t.Config.From,
		To:      rec.Email,
		Subject: subject,
		Text:    text,
		HTML:    body,
		Headers: headers,
	}, nil
}

func messageIDDomain(from string) string {
	if !strings.Contains(from, "@") {
		return "localhost"
	}
	return slicez.Nth(strings.Split(from, "@"), -1)
}

// ====================== Drain ======================

// Drain first finishes record creation for confirmed campaigns that were
// never fully prepared, then sends every record still queued, with at most
// Concurrency sends in flight. Records that hit a storage error stay queued
// for the next run.
func (t *DeliveryTracker) Drain(ctx context.Context) (DrainResult, error) {
	if err := t.resume(ctx); err != nil {
		return DrainResult{}, err
	}

	jobs := make(chan int)
	workers := make([]*Worker, t.concurrency())

	var g errgroup.Group
	for i := range workers {
		w := NewWorker(t, jobs, t.Log)
		workers[i] = w
		g.Go(func() error {
			w.Start(ctx)
			return nil
		})
	}

	listErr := t.feed(ctx, jobs)
	close(jobs)
	_ = g.Wait()

	var res DrainResult
	for _, w := range workers {
		res.Sent += w.Sent
		res.Failed += w.Failed
		res.Errors += w.Errors
	}
	t.Log.WithFields(logrus.Fields{
		"sent":   res.Sent,
		"failed": res.Failed,
		"errors": res.Errors,
	}).Info("🚚 drain finished")
	return res, listErr
}

func (t *DeliveryTracker) resume(ctx context.Context) error {
	ids, err := t.Campaigns.ListUnprepared(ctx)
	if err != nil {
		return fmt.Errorf("list unprepared campaigns: %w", err)
	}
	for _, id := range ids {
		if _, err := t.PrepareCampaign(ctx, id); err != nil {
			t.Log.WithError(err).WithField("campaign_id", id).Error("❌ failed to resume campaign preparation")
		}
	}
	return nil
}

func (t *DeliveryTracker) feed(ctx context.Context, jobs chan<- int) error {
	afterID := 0
	for {
		recs, err := t.Deliveries.ListQueued(ctx, afterID, t.batchSize())
		if err != nil {
			return fmt.Errorf("list queued: %w", err)
		}
		if len(recs) == 0 {
			return nil
		}
		for _, rec := range recs {
			select {
			case jobs <- rec.ID:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		afterID = recs[len(recs)-1].ID
	}
}
