// Package notify delivers best-effort notices to partner users. Failures
// are the caller's to log; they never abort a workflow transition.
package notify

import (
	"context"
	"log"
)

// Dispatcher is the outbound notification boundary.
type Dispatcher interface {
	Notify(ctx context.Context, userID, title, message string, meta map[string]any) error
}

// LogDispatcher writes notices to a logger. It is the default when no
// webhook transport is configured.
type LogDispatcher struct {
	Logger *log.Logger
}

func (d LogDispatcher) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d LogDispatcher) Notify(ctx context.Context, userID, title, message string, meta map[string]any) error {
	d.logger().Printf("notify user=%s title=%q message=%q meta=%v", userID, title, message, meta)
	return nil
}
