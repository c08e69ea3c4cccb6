package queue

import (
	"context"

	"github.com/GeneralTask/task-manager-sub001/cache"
)

// Invalidator refetches cache keys once a lane drains. *cache.Store satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...cache.Key) error
}

// Notification is the user visible message for a failed mutation.
type Notification struct {
	IntentID string
	Tag      Tag
	Name     string
	Err      error
}

// Notifier surfaces failed mutations to the user, typically as a toast.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
