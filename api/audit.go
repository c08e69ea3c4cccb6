package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/GeneralTask/task-manager-sub001/config"
	"github.com/GeneralTask/task-manager-sub001/domain"
)

// AuditConfig sizes the audit worker pool.
type AuditConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds a single publish.
	Timeout time.Duration
	// Handoff is how long Send waits for buffer space before publishing
	// inline.
	Handoff time.Duration
}

func AuditConfigFromEnv() AuditConfig {
	return AuditConfig{
		Workers: config.Int("AUDIT_WORKERS", 4),
		Buffer:  config.Int("AUDIT_BUFFER", 1024),
		Timeout: config.Duration("AUDIT_TIMEOUT", 30*time.Second),
		Handoff: config.Duration("AUDIT_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

// AuditSender hands audit events to a pool of workers so handlers never wait
// on the queue. When the buffer stays full for longer than the handoff
// timeout the event is published inline.
type AuditSender struct {
	auditor Auditor
	logger  *log.Logger
	cfg     AuditConfig

	mu     sync.RWMutex
	closed bool
	jobs   chan domain.AuditEvent
	wg     sync.WaitGroup
}

func NewAuditSender(auditor Auditor, logger *log.Logger, cfg AuditConfig) *AuditSender {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &AuditSender{auditor: auditor, logger: logger, cfg: cfg, jobs: make(chan domain.AuditEvent, cfg.Buffer)}
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Infof("audit sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.Handoff)
	return s
}

func (s *AuditSender) worker(id int) {
	defer s.wg.Done()
	for ev := range s.jobs {
		if err := s.publish(ev); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{"user_id": ev.UserID, "op": ev.Op, "worker": id}).Error("audit publish failed")
		}
	}
}

func (s *AuditSender) publish(ev domain.AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return s.auditor.Publish(ctx, ev)
}

// Send queues ev. It is a no-op on a nil or closed sender.
func (s *AuditSender) Send(ev domain.AuditEvent) {
	if s == nil {
		return
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	queued := s.handoff(ev)
	s.mu.RUnlock()
	if queued {
		return
	}

	s.logger.Warn("audit buffer saturated; publishing inline")
	if err := s.publish(ev); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"user_id": ev.UserID, "op": ev.Op}).Error("audit publish inline failed")
	}
}

func (s *AuditSender) handoff(ev domain.AuditEvent) bool {
	select {
	case s.jobs <- ev:
		return true
	default:
	}
	if s.cfg.Handoff <= 0 {
		return false
	}
	timer := time.NewTimer(s.cfg.Handoff)
	defer timer.Stop()
	select {
	case s.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (s *AuditSender) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
}
