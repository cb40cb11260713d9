package verification

import (
	"github.com/angelmondragon/originhash-backend/internal/certificates"
)

// Result is the composite outcome of a verification run.
type Result struct {
	certificates.Detail
	Replayed bool `json:"replayed"`
}

// LedgerStatus reconciles the stored content identifier with the ledger binding.
type LedgerStatus struct {
	UniqueID           string `json:"uniqueId"`
	Fingerprint        string `json:"fingerprint"`
	StoredContentID    string `json:"storedContentId"`
	LedgerContentID    string `json:"ledgerContentId"`
	ExistsOnLedger     bool   `json:"existsOnLedger"`
	HashesMatch        bool   `json:"hashesMatch"`
	BlockchainVerified bool   `json:"blockchainVerified"`
	TxHash             string `json:"txHash,omitempty"`
}

// HashesMatch is true only when the ledger holds exactly the stored identifier.
func HashesMatch(exists bool, stored, onLedger string) bool {
	return exists && stored != "" && stored == onLedger
}
