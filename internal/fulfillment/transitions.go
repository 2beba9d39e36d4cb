package fulfillment

import (
	"fmt"

	"github.com/briankimutai/dukalink-backend/pkg/db/models"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
)

// Action names one fulfillment transition. The whole rule set lives in
// transitionTable; handlers never compare statuses themselves.
type Action string

const (
	ActionProcess Action = "process"
	ActionFulfill Action = "fulfill"
	ActionReady   Action = "ready"
	ActionPickup  Action = "pickup"
	ActionShip    Action = "ship"
	ActionDeliver Action = "deliver"
	ActionCancel  Action = "cancel"
)

type transition struct {
	from         []enums.FulfillmentStatus
	to           enums.FulfillmentStatus
	requiresPaid bool
	defaultNote  string
}

var transitionTable = map[Action]transition{
	ActionProcess: {
		from:         []enums.FulfillmentStatus{enums.FulfillmentStatusPending},
		to:           enums.FulfillmentStatusProcessing,
		requiresPaid: true,
		defaultNote:  "Order processing started",
	},
	ActionFulfill: {
		from:         []enums.FulfillmentStatus{enums.FulfillmentStatusProcessing},
		to:           enums.FulfillmentStatusFulfilled,
		requiresPaid: true,
		defaultNote:  "Order fulfilled",
	},
	ActionReady: {
		from:         []enums.FulfillmentStatus{enums.FulfillmentStatusFulfilled},
		to:           enums.FulfillmentStatusReady,
		requiresPaid: true,
		defaultNote:  "Order ready for pickup",
	},
	ActionPickup: {
		from:         []enums.FulfillmentStatus{enums.FulfillmentStatusReady},
		to:           enums.FulfillmentStatusPickedUp,
		requiresPaid: true,
		defaultNote:  "Order picked up",
	},
	ActionShip: {
		from: []enums.FulfillmentStatus{
			enums.FulfillmentStatusProcessing,
			enums.FulfillmentStatusFulfilled,
			enums.FulfillmentStatusReady,
			enums.FulfillmentStatusPickedUp,
		},
		to:           enums.FulfillmentStatusShipped,
		requiresPaid: true,
		defaultNote:  "Order shipped",
	},
	ActionDeliver: {
		from:         []enums.FulfillmentStatus{enums.FulfillmentStatusShipped},
		to:           enums.FulfillmentStatusDelivered,
		requiresPaid: true,
		defaultNote:  "Order delivered",
	},
	ActionCancel: {
		from: []enums.FulfillmentStatus{
			enums.FulfillmentStatusPending,
			enums.FulfillmentStatusProcessing,
			enums.FulfillmentStatusFulfilled,
			enums.FulfillmentStatusReady,
			enums.FulfillmentStatusPickedUp,
			enums.FulfillmentStatusPendingSplitPayment,
			enums.FulfillmentStatusPendingBankTransfer,
		},
		to:          enums.FulfillmentStatusCancelled,
		defaultNote: "Order cancelled",
	},
}

// ParseAction converts raw input into an Action.
func ParseAction(value string) (Action, error) {
	action := Action(value)
	if _, ok := transitionTable[action]; !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown fulfillment action %q", value))
	}
	return action, nil
}

// Apply validates the action against the order's current state and returns
// the resulting status. The order is not mutated.
func Apply(order *models.Order, action Action) (enums.FulfillmentStatus, error) {
	rule, ok := transitionTable[action]
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown fulfillment action %q", action))
	}
	if order.FulfillmentStatus.IsTerminal() {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s and admits no further changes", order.FulfillmentStatus))
	}
	if !contains(rule.from, order.FulfillmentStatus) {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot %s an order in status %q, expected one of %v", action, order.FulfillmentStatus, rule.from))
	}
	if rule.requiresPaid && order.PaymentStatus != enums.PaymentStatusPaid {
		return "", pkgerrors.New(pkgerrors.CodePaymentRequired,
			fmt.Sprintf("payment must be confirmed before %s, current payment status is %q", action, order.PaymentStatus))
	}
	return rule.to, nil
}

func defaultNote(action Action) string {
	return transitionTable[action].defaultNote
}

func contains(list []enums.FulfillmentStatus, status enums.FulfillmentStatus) bool {
	for _, candidate := range list {
		if candidate == status {
			return true
		}
	}
	return false
}
