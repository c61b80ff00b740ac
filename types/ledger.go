package types

import "time"

// AccountInfo is the ledger's summary of one account chain.
type AccountInfo struct {
	Head           Hash
	Representative Account
	Open           Hash
	Balance        Amount
	Modified       time.Time
	BlockCount     uint64
}

// PendingKey addresses a receivable entry: the destination and the send.
type PendingKey struct {
	Account Account
	Hash    Hash
}

// PendingInfo is what a send left for its destination to receive.
type PendingInfo struct {
	Source Account
	Amount Amount
}

// ConfirmationHeightInfo is the persisted cementation point of an account:
// every block at or below Height, ending at Frontier, is final.
type ConfirmationHeightInfo struct {
	Height   uint64
	Frontier Hash
}

// CementedBlock is emitted once per block after its cementation commits.
type CementedBlock struct {
	Block *Block
	// Election is set when the block was the winner of an election.
	Election *ElectionStatus
}
