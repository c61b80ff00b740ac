package node

import (
	"github.com/orvnode/orv/types"
)

// Events fired on the node's event switch. Listeners are called from the
// node's worker pool, never from the core.
const (
	EventBlockConfirmed        = "block_confirmed"
	EventAccountBalanceChanged = "account_balance_changed"
	EventElectionStopped       = "election_stopped"
)

// EventDataBlockConfirmed is fired once per cemented block.
type EventDataBlockConfirmed struct {
	Status  types.ElectionStatus
	Account types.Account
	Amount  types.Amount
	IsSend  bool
}

// EventDataBalanceChanged is fired when the confirmed balance of an account
// or its receivable balance changes.
type EventDataBalanceChanged struct {
	Account types.Account
	// Receivable is set when the change is a new incoming send.
	Receivable bool
}

// EventDataElectionStopped is fired when an election ends without
// confirmation.
type EventDataElectionStopped struct {
	Status types.ElectionStatus
}
