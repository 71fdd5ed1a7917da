// Package notify publishes a short summary of every batch job over MQTT so
// dashboards and alerting can follow cron runs without reading logs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
	"github.com/muvis-xrh/xrhms-core/internal/logger"
)

// Summary describes the outcome of one job.
type Summary struct {
	Job      string         `json:"job"`
	JobID    string         `json:"job_id"`
	Node     string         `json:"node"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Success  bool           `json:"success"`
	ExitCode int            `json:"exit_code"`
	Counts   map[string]int `json:"counts,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Notifier publishes summaries under a topic prefix.
type Notifier struct {
	publisher Publisher
	topic     string
	log       logger.Logger
}

// New creates a Notifier. A nil publisher gives a Notifier that only logs.
func New(publisher Publisher, topic string, log logger.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		topic:     strings.TrimSuffix(topic, "/"),
		log:       log,
	}
}

// Topic returns the topic a job's summary is published to.
func (n *Notifier) Topic(job string) string {
	return n.topic + "/" + job
}

// PublishSummary sends s as JSON to <topic>/<job>. Failures are returned but
// never change the job's exit code; callers only log them.
func (n *Notifier) PublishSummary(ctx context.Context, s *Summary) error {
	if n == nil || n.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	topic := n.Topic(s.Job)
	if err := n.publisher.Publish(ctx, topic, payload); err != nil {
		return errors.New(fmt.Errorf("publishing job summary: %w", err)).
			Component("notify").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	n.log.Debug("job summary published",
		logger.String("topic", topic),
		logger.Bool("success", s.Success))
	return nil
}

// Close releases the underlying publisher.
func (n *Notifier) Close() {
	if n != nil && n.publisher != nil {
		n.publisher.Close()
	}
}
