package notify

import (
	"fmt"

	"github.com/gen2brain/beeep"
)

// Desktop sends notifications through the platform notification service.
type Desktop struct {
	// AppName is set as the notifying application where supported.
	AppName string
}

// Send implements Sender.
func (d Desktop) Send(title, body string) error {
	if d.AppName != "" {
		beeep.AppName = d.AppName
	}
	if err := beeep.Notify(title, body, ""); err != nil {
		return fmt.Errorf("failed to send desktop notification: %w", err)
	}
	return nil
}
