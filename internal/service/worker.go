package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/queue"
)

// RecordProcessor is what a Worker needs from the tracker.
type RecordProcessor interface {
	process(ctx context.Context, recordID int) (string, error)
}

// Worker sends records whose ids arrive on JobChan and tallies outcomes.
// A Worker is owned by one goroutine; read its counters after Start returns.
type Worker struct {
	Processor RecordProcessor
	JobChan   <-chan int
	Log       *logrus.Logger

	Sent   int
	Failed int
	Errors int
}

// Constructor
func NewWorker(p RecordProcessor, jobChan <-chan int, log *logrus.Logger) *Worker {
	return &Worker{
		Processor: p,
		JobChan:   jobChan,
		Log:       log,
	}
}

// Start begins processing jobs until the channel closes
func (w *Worker) Start(ctx context.Context) {
	for id := range w.JobChan {
		status, err := w.Processor.process(ctx, id)
		if err != nil {
			w.Log.WithError(err).WithField("record_id", id).Error("❌ failed to process delivery")
			w.Errors++
			continue
		}
		switch status {
		case model.DeliverySent:
			w.Sent++
		case model.DeliveryFailed:
			w.Failed++
		}
	}
}

// StartSubscribers wires queue topics to their handlers.
func StartSubscribers(ctx context.Context, q queue.Queue, tracker *DeliveryTracker, analytics *AnalyticsService, log *logrus.Logger) error {
	if err := q.Subscribe(ctx, queue.TopicCampaignPrepare, func(ctx context.Context, job queue.Job) error {
		_, err := tracker.PrepareCampaign(ctx, job.CampaignID)
		return err
	}); err != nil {
		return err
	}
	if err := q.Subscribe(ctx, queue.TopicCampaignSends, func(ctx context.Context, job queue.Job) error {
		return tracker.Process(ctx, job.RecordID)
	}); err != nil {
		return err
	}
	if analytics != nil {
		if err := q.Subscribe(ctx, queue.TopicAnalyticsExport, func(ctx context.Context, job queue.Job) error {
			return analytics.SendExport(ctx, job.UserID)
		}); err != nil {
			return err
		}
	}
	log.Info("👷 queue subscribers started")
	return nil
}
