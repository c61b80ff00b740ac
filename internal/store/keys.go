package store

import (
	"fmt"

	"github.com/google/orderedcode"

	"github.com/orvnode/orv/types"
)

//---------------------------------- KEY ENCODING -----------------------------------------

// key prefixes
const (
	// prefixes are unique across all tables of the ledger db
	prefixBlock              = int64(1)
	prefixAccount            = int64(2)
	prefixPending            = int64(3)
	prefixConfirmationHeight = int64(4)
	prefixPruned             = int64(5)
	prefixRepWeight          = int64(6)
	prefixMeta               = int64(7)
)

const (
	metaBlockCount    = "block_count"
	metaCementedCount = "cemented_count"
)

func mustKey(items ...interface{}) []byte {
	key, err := orderedcode.Append(nil, items...)
	if err != nil {
		panic(err)
	}
	return key
}

func blockKey(hash types.Hash) []byte {
	return mustKey(prefixBlock, string(hash[:]))
}

func accountKey(account types.Account) []byte {
	return mustKey(prefixAccount, string(account[:]))
}

// accountsEnd sorts after every account key.
func accountsEnd() []byte {
	return mustKey(prefixAccount + 1)
}

func decodeAccountKey(key []byte) (types.Account, error) {
	var (
		prefix  int64
		account string
	)
	remaining, err := orderedcode.Parse(string(key), &prefix, &account)
	if err != nil {
		return types.Account{}, err
	}
	if len(remaining) != 0 {
		return types.Account{}, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixAccount {
		return types.Account{}, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixAccount, prefix)
	}
	return types.AccountFromBytes([]byte(account))
}

func pendingKey(key types.PendingKey) []byte {
	return mustKey(prefixPending, string(key.Account[:]), string(key.Hash[:]))
}

func pendingAccountPrefix(account types.Account) []byte {
	return mustKey(prefixPending, string(account[:]))
}

func decodePendingKey(key []byte) (types.PendingKey, error) {
	var (
		prefix        int64
		account, hash string
	)
	remaining, err := orderedcode.Parse(string(key), &prefix, &account, &hash)
	if err != nil {
		return types.PendingKey{}, err
	}
	if len(remaining) != 0 || prefix != prefixPending {
		return types.PendingKey{}, fmt.Errorf("malformed pending key %X", key)
	}
	a, err := types.AccountFromBytes([]byte(account))
	if err != nil {
		return types.PendingKey{}, err
	}
	h, err := types.HashFromBytes([]byte(hash))
	if err != nil {
		return types.PendingKey{}, err
	}
	return types.PendingKey{Account: a, Hash: h}, nil
}

func confirmationHeightKey(account types.Account) []byte {
	return mustKey(prefixConfirmationHeight, string(account[:]))
}

func prunedKey(hash types.Hash) []byte {
	return mustKey(prefixPruned, string(hash[:]))
}

func repWeightKey(rep types.Account) []byte {
	return mustKey(prefixRepWeight, string(rep[:]))
}

func repWeightPrefix() []byte {
	return mustKey(prefixRepWeight)
}

func decodeRepWeightKey(key []byte) (types.Account, error) {
	var (
		prefix int64
		rep    string
	)
	if _, err := orderedcode.Parse(string(key), &prefix, &rep); err != nil {
		return types.Account{}, err
	}
	if prefix != prefixRepWeight {
		return types.Account{}, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixRepWeight, prefix)
	}
	return types.AccountFromBytes([]byte(rep))
}

func metaKey(name string) []byte {
	return mustKey(prefixMeta, name)
}
