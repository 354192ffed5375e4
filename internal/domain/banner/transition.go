package banner

import "fmt"

// Event is a lifecycle request against a banner
type Event string

const (
	EventPublish    Event = "publish"
	EventActivate   Event = "activate" // scheduled activation fired
	EventUnpublish  Event = "unpublish"
	EventDraft      Event = "draft"
	EventReschedule Event = "reschedule"
)

var transitions = map[Status]map[Event]Status{
	StatusDraft: {
		EventPublish:    StatusPublished,
		EventReschedule: StatusScheduled,
	},
	StatusScheduled: {
		EventPublish:    StatusPublished,
		EventActivate:   StatusPublished,
		EventDraft:      StatusDraft,
		EventReschedule: StatusScheduled,
	},
	StatusPublished: {
		EventDraft:      StatusDraft,
		EventUnpublish:  StatusUnpublished,
		EventReschedule: StatusScheduled,
	},
	StatusUnpublished: {
		EventPublish:    StatusPublished,
		EventReschedule: StatusScheduled,
	},
}

// NextStatus resolves the target status of an event, or ErrInvalidTransition
// when the pair is not part of the lifecycle.
func NextStatus(from Status, ev Event) (Status, error) {
	next, ok := transitions[from][ev]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s banner", ErrInvalidTransition, ev, from)
	}
	return next, nil
}
