package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// run
	"run.started":   {},
	"run.completed": {},
	"run.failed":    {},
	"run.cancelled": {},

	// node
	"node.entered": {},
	"node.left":    {},

	// round
	"round.completed": {},
	"round.retry":     {},
	"round.wait":      {},
	"round.exhausted": {},

	// perception
	"perception.failed":  {},
	"perception.timeout": {},

	// rule
	"rule.matched":  {},
	"rule.mock":     {},
	"rule.none":     {},
	"rule.cooldown": {},
	"rule.error":    {},
	"rule.deferred": {},

	// action
	"action.executed": {},
	"action.failed":   {},

	// state
	"state.updated": {},
	"state.cleared": {},

	// controller
	"controller.registered": {},
	"controller.command":    {},
	"controller.error":      {},

	// facts
	"fact.rejected": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

// Validate reports whether event is part of the known vocabulary.
func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
