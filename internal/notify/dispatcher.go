// Package notify delivers advisory notifications to the user.
package notify

import (
	"context"
	"log/slog"

	"homedash/internal/model"
)

// Sink delivers a notification to a platform.
type Sink interface {
	Deliver(ctx context.Context, title, body string) error
}

// PermissionSource reports whether the user allowed notifications.
type PermissionSource interface {
	Permission(ctx context.Context) model.Permission
}

// Dispatcher gates notifications on platform support and user permission.
type Dispatcher struct {
	sink  Sink
	perms PermissionSource
	log   *slog.Logger
}

// New creates a Dispatcher. A nil sink disables delivery.
func New(sink Sink, perms PermissionSource, log *slog.Logger) *Dispatcher {
	return &Dispatcher{sink: sink, perms: perms, log: log}
}

// Notify delivers title and body if possible. It never fails and never panics;
// delivery problems are only logged.
func (d *Dispatcher) Notify(ctx context.Context, title, body string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notify panic", "title", title, "panic", r)
		}
	}()

	if d.sink == nil {
		d.log.Debug("notify skipped: no sink", "title", title)
		return
	}
	if d.perms == nil {
		d.log.Debug("notify skipped: no permission source", "title", title)
		return
	}
	if p := d.perms.Permission(ctx); p != model.PermissionGranted {
		d.log.Debug("notify skipped: permission", "title", title, "permission", string(p))
		return
	}

	if err := d.sink.Deliver(ctx, title, body); err != nil {
		d.log.Warn("deliver notification", "title", title, "error", err)
	}
}
