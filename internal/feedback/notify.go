package feedback

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog/log"
)

// Notifier posts desktop notifications; the zero value is disabled.
type Notifier struct {
	Enabled bool
	Title   string
	send    func(title, message string) error
}

func NewNotifier(enabled bool, title string) *Notifier {
	return &Notifier{Enabled: enabled, Title: title}
}

func (n *Notifier) Notify(message string) {
	if n == nil || !n.Enabled {
		return
	}
	send := n.send
	if send == nil {
		send = func(title, message string) error { return beeep.Notify(title, message, "") }
	}
	if err := send(n.Title, message); err != nil {
		log.Debug().Err(err).Msg("feedback: desktop notification failed")
	}
}
