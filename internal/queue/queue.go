package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	TopicCampaignPrepare = "campaign_prepare"
	TopicCampaignSends   = "campaign_sends"
	TopicAnalyticsExport = "analytics_export"
)

// Job is the payload carried on every topic.
type Job struct {
	CampaignID int `json:"campaign_id,omitempty"`
	RecordID   int `json:"record_id,omitempty"`
	UserID     int `json:"user_id,omitempty"`
}

type Handler func(ctx context.Context, job Job) error

// Queue interface
type Queue interface {
	Publish(topic string, job Job) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
}

// InMemoryQueue dispatches jobs to subscribers in-process, running at most
// limit handlers at once. Failed jobs are logged and dropped.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]subscription
	sem      chan struct{}
	wg       sync.WaitGroup
	log      *logrus.Logger
}

type subscription struct {
	ctx     context.Context
	handler Handler
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(limit int, log *logrus.Logger) *InMemoryQueue {
	if limit < 1 {
		limit = 1
	}
	return &InMemoryQueue{
		handlers: make(map[string][]subscription),
		sem:      make(chan struct{}, limit),
		log:      log,
	}
}

// Publish sends a job to all subscribers of topic
func (q *InMemoryQueue) Publish(topic string, job Job) error {
	q.mu.Lock()
	subs := q.handlers[topic]
	q.mu.Unlock()

	if len(subs) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, sub := range subs {
		q.wg.Add(1)
		go q.processJob(topic, sub, job)
	}
	return nil
}

func (q *InMemoryQueue) processJob(topic string, sub subscription, job Job) {
	defer q.wg.Done()

	select {
	case q.sem <- struct{}{}:
	case <-sub.ctx.Done():
		return
	}
	defer func() { <-q.sem }()

	if err := sub.handler(sub.ctx, job); err != nil {
		q.log.WithError(err).WithField("topic", topic).WithField("job", job).Warn("⚠️ job failed")
		return
	}
	q.log.WithField("topic", topic).WithField("job", job).Debug("job processed")
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], subscription{ctx: ctx, handler: handler})
	return nil
}

// Wait blocks until every published job has been handled.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
