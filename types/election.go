package types

import "time"

// VoteCode classifies what a vote did.
type VoteCode uint8

const (
	// VoteCodeInvalid: bad signature or malformed; never reaches an election.
	VoteCodeInvalid VoteCode = iota
	// VoteCodeReplay: nothing new, either a duplicate or superseded vote, or
	// a vote for a recently confirmed block.
	VoteCodeReplay
	// VoteCodeVote: accepted and applied to a tally.
	VoteCodeVote
	// VoteCodeIndeterminate: no election tracks the hash and it was not
	// recently confirmed.
	VoteCodeIndeterminate
)

func (c VoteCode) String() string {
	switch c {
	case VoteCodeInvalid:
		return "invalid"
	case VoteCodeReplay:
		return "replay"
	case VoteCodeVote:
		return "vote"
	case VoteCodeIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// ElectionBehavior records why an election was started. It selects the
// capacity bucket and time to live.
type ElectionBehavior uint8

const (
	BehaviorPriority ElectionBehavior = iota
	BehaviorHinted
	BehaviorOptimistic
	BehaviorManual
)

// ElectionBehaviors lists every behavior, in admission priority order.
var ElectionBehaviors = []ElectionBehavior{BehaviorManual, BehaviorPriority, BehaviorHinted, BehaviorOptimistic}

func (b ElectionBehavior) String() string {
	switch b {
	case BehaviorPriority:
		return "priority"
	case BehaviorHinted:
		return "hinted"
	case BehaviorOptimistic:
		return "optimistic"
	case BehaviorManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ElectionState is the election state machine. Confirmed and
// ExpiredUnconfirmed are terminal.
type ElectionState uint8

const (
	ElectionRunning ElectionState = iota
	ElectionConfirmed
	ElectionExpiredUnconfirmed
)

func (s ElectionState) String() string {
	switch s {
	case ElectionRunning:
		return "running"
	case ElectionConfirmed:
		return "confirmed"
	case ElectionExpiredUnconfirmed:
		return "expired_unconfirmed"
	default:
		return "unknown"
	}
}

// ElectionStatusType says how a block reached confirmation.
type ElectionStatusType uint8

const (
	StatusOngoing ElectionStatusType = iota
	// StatusActiveConfirmedQuorum: an election reached quorum.
	StatusActiveConfirmedQuorum
	// StatusActiveConfirmationHeight: the block had an election but was
	// cemented as a dependency of another block first.
	StatusActiveConfirmationHeight
	// StatusInactiveConfirmationHeight: cemented as a dependency, no election.
	StatusInactiveConfirmationHeight
	StatusStopped
)

func (t ElectionStatusType) String() string {
	switch t {
	case StatusOngoing:
		return "ongoing"
	case StatusActiveConfirmedQuorum:
		return "active_quorum"
	case StatusActiveConfirmationHeight:
		return "active_confirmation_height"
	case StatusInactiveConfirmationHeight:
		return "inactive"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ElectionStatus is the snapshot taken when an election finishes.
type ElectionStatus struct {
	Winner                   *Block
	Tally                    Amount
	FinalTally               Amount
	ElectionEnd              time.Time
	ElectionDuration         time.Duration
	ConfirmationRequestCount uint32
	BlockCount               uint32
	VoterCount               uint32
	Type                     ElectionStatusType
}

// VoteWithWeight is one representative's latest vote in an election, with the
// weight it carried when applied.
type VoteWithWeight struct {
	Representative Account
	Hash           Hash
	Timestamp      uint64
	Weight         Amount
	Time           time.Time
}
