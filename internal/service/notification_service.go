package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meetwise/booking-api/internal/models"
	"github.com/meetwise/booking-api/pkg/config"
	"github.com/meetwise/booking-api/pkg/jobs"
)

type outboxRepository interface {
	Enqueue(ctx context.Context, n *models.Notification) error
	ListPending(ctx context.Context, limit int) ([]models.Notification, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string, maxAttempts int) error
}

// Sender delivers a single notification to its recipient. Transport is a
// deployment concern; the engine only guarantees at-least-once handoff.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// LogSender is the default delivery backend: it emits a structured log line
// per notification. External relays implement Sender and swap in here.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender instantiates LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, n models.Notification) error {
	s.logger.Info("notification delivered",
		zap.String("notification_id", n.ID),
		zap.String("kind", n.Kind),
		zap.String("recipient", n.Recipient))
	return nil
}

// NotificationService drains the outbox. Rows are picked up by a periodic
// poll or an explicit kick after a commit, then handed to a worker pool that
// sends each one under a timeout. Delivery is at-least-once: a row may be
// retried after a crash between send and MarkSent.
type NotificationService struct {
	outbox outboxRepository
	sender Sender
	cfg    config.NotificationsConfig
	logger *zap.Logger

	queue *jobs.Queue[models.Notification]
	kick  chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewNotificationService instantiates NotificationService.
func NewNotificationService(outbox outboxRepository, sender Sender, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		outbox:   outbox,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		inFlight: make(map[string]struct{}),
	}
	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return s
}

// Start launches the worker pool and the poll loop.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("notification dispatch disabled")
		return
	}
	s.queue.Start(ctx)
	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// Stop shuts the poll loop and the worker pool down.
func (s *NotificationService) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.queue.Stop()
}

// Kick requests an immediate drain, coalescing concurrent requests.
func (s *NotificationService) Kick() {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *NotificationService) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		if err := s.drain(ctx); err != nil {
			s.logger.Warn("outbox drain failed", zap.Error(err))
		}
	}
}

// drain enqueues pending rows that are not already being processed.
func (s *NotificationService) drain(ctx context.Context) error {
	pending, err := s.outbox.ListPending(ctx, 100)
	if err != nil {
		return fmt.Errorf("list pending notifications: %w", err)
	}

	for _, n := range pending {
		if !s.claim(n.ID) {
			continue
		}
		if err := s.queue.Enqueue(jobs.Job[models.Notification]{ID: n.ID, Kind: n.Kind, Payload: n}); err != nil {
			s.release(n.ID)
			s.logger.Warn("enqueue notification job failed",
				zap.String("notification_id", n.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job[models.Notification]) error {
	n := job.Payload

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err := s.sender.Send(sendCtx, n)
	cancel()

	if err != nil {
		if markErr := s.outbox.MarkFailed(ctx, n.ID, err.Error(), s.cfg.WorkerRetries); markErr != nil {
			s.logger.Error("mark notification failed errored",
				zap.String("notification_id", n.ID), zap.Error(markErr))
		}
		s.release(n.ID)
		return err
	}

	if err := s.outbox.MarkSent(ctx, n.ID); err != nil {
		s.logger.Error("mark notification sent errored",
			zap.String("notification_id", n.ID), zap.Error(err))
	}
	s.release(n.ID)
	return nil
}

func (s *NotificationService) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inFlight[id]; exists {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *NotificationService) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}
