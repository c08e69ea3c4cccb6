package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/GeneralTask/task-manager-sub001/domain"
)

type blockingAuditor struct {
	release chan struct{}
	count   atomic.Int32
	err     error
}

func (b *blockingAuditor) Publish(ctx context.Context, ev domain.AuditEvent) error {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.count.Add(1)
	return b.err
}

func TestAuditSenderPublishesInlineWhenSaturated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	auditor := &blockingAuditor{release: make(chan struct{})}
	s := NewAuditSender(auditor, logger, AuditConfig{Workers: 1, Buffer: 0, Handoff: time.Millisecond})

	done := make(chan struct{})
	go func() {
		// The worker takes the first event; the second finds no free worker
		// and is published inline.
		s.Send(domain.AuditEvent{Op: "a"})
		s.Send(domain.AuditEvent{Op: "b"})
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		warned := false
		for _, e := range hook.AllEntries() {
			if e.Message == "audit buffer saturated; publishing inline" {
				warned = true
			}
		}
		if warned {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected saturation warning")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(auditor.release)
	<-done
	s.Close()
	if got := auditor.count.Load(); got != 2 {
		t.Fatalf("expected 2 publishes, got %d", got)
	}
}

func TestAuditSenderLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewAuditSender(&blockingAuditor{err: errors.New("queue down")}, logger, AuditConfig{Workers: 1, Buffer: 4})
	s.Send(domain.AuditEvent{UserID: "u1", Op: "task.create"})
	s.Close()

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "audit publish failed" || entry.Data["user_id"] != "u1" {
		t.Fatalf("expected failure log, got %#v", entry)
	}
	// Sending after Close is dropped.
	s.Send(domain.AuditEvent{})
	var nilSender *AuditSender
	nilSender.Send(domain.AuditEvent{})
	nilSender.Close()
}
