package orders

import (
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// transitions lists the statuses reachable from each status. Delivered and
// cancelled are terminal.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:   {enums.OrderStatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Action is a seller-facing fulfillment command.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionShip    Action = "ship"
	ActionDeliver Action = "deliver"
	ActionCancel  Action = "cancel"
)

// Target returns the status an action moves the order to.
func (a Action) Target() (enums.OrderStatus, bool) {
	switch a {
	case ActionConfirm:
		return enums.OrderStatusConfirmed, true
	case ActionShip:
		return enums.OrderStatusShipped, true
	case ActionDeliver:
		return enums.OrderStatusDelivered, true
	case ActionCancel:
		return enums.OrderStatusCancelled, true
	}
	return "", false
}

// ParseAction converts a path segment into an Action.
func ParseAction(value string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := action.Target(); !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "action must be confirm, ship, deliver, or cancel")
	}
	return action, nil
}
