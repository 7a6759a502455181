// Package notify raises desktop notifications for notable snapshot
// changes.
//
// The Dispatcher observes every snapshot on the monitor goroutine and
// decides what to announce; delivery happens on the goroutine running
// Dispatcher.Run so a slow notification daemon never delays a tick.
// Each condition is announced once: a plan switch on the tick it happens,
// quota binding and the usage threshold once per block, and staleness
// once per outage.
package notify

import "time"

// Kind identifies why a notification was sent.
type Kind string

const (
	KindPlanSwitch Kind = "plan_switch"
	KindQuota      Kind = "quota"
	KindThreshold  Kind = "threshold"
	KindStale      Kind = "stale"
)

// Notification is one message to deliver.
type Notification struct {
	Kind  Kind
	Title string
	Body  string
}

// Sender delivers notifications.
type Sender interface {
	Send(title, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(title, body string) error

// Send implements Sender.
func (f SenderFunc) Send(title, body string) error { return f(title, body) }

// Config contains dispatcher configuration.
type Config struct {
	// PlanSwitch announces a fixed plan being exceeded.
	PlanSwitch bool

	// Quota announces that the quota will run out before the block resets.
	Quota bool

	// ThresholdPercent announces usage reaching this share of the limit.
	// Zero disables it.
	ThresholdPercent float64

	// Stale announces the data source failing repeatedly.
	Stale bool

	// QueueSize bounds undelivered notifications; more are dropped.
	// Default: 8.
	QueueSize int

	// Location is used for times in messages.
	// Default: time.Local.
	Location *time.Location
}
