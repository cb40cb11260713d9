package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/angelmondragon/originhash-backend/pkg/ipfs"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
)

// ErrorDump flattens an error chain into log fields. Database, IPFS and
// ledger causes each get their own columns so failed pipeline steps can be
// filtered on in the log sink.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`

	UploadName   string `json:"upload_name,omitempty"`
	UploadStatus int    `json:"upload_status,omitempty"`
	UploadReason string `json:"upload_reason,omitempty"`

	LedgerFingerprint string `json:"ledger_fingerprint,omitempty"`
	LedgerTxHash      string `json:"ledger_tx_hash,omitempty"`
	LedgerReason      string `json:"ledger_reason,omitempty"`
}

// Fields returns the populated dump entries keyed for structured logging.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	optional := map[string]string{
		"pg_code":            d.PGCode,
		"pg_constraint":      d.PGConstraint,
		"pg_table":           d.PGTable,
		"pg_column":          d.PGColumn,
		"pg_detail":          d.PGDetail,
		"pg_message":         d.PGMessage,
		"upload_name":        d.UploadName,
		"upload_reason":      d.UploadReason,
		"ledger_fingerprint": d.LedgerFingerprint,
		"ledger_tx_hash":     d.LedgerTxHash,
		"ledger_reason":      d.LedgerReason,
	}
	for key, value := range optional {
		if value != "" {
			fields[key] = value
		}
	}
	if d.UploadStatus != 0 {
		fields["upload_status"] = d.UploadStatus
	}
	return fields
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var uploadErr *ipfs.UploadError
	if errors.As(err, &uploadErr) {
		d.UploadName = uploadErr.Name
		d.UploadStatus = uploadErr.StatusCode
		d.UploadReason = uploadErr.Reason
	}

	var anchorErr *ledger.AnchorError
	if errors.As(err, &anchorErr) {
		d.LedgerFingerprint = anchorErr.Fingerprint
		d.LedgerTxHash = anchorErr.TxHash
		d.LedgerReason = anchorErr.Reason
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGColumn = pgxErr.ColumnName
		d.PGDetail = pgxErr.Detail
		d.PGMessage = pgxErr.Message
		return d
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGColumn = pqErr.Column
		d.PGDetail = pqErr.Detail
		d.PGMessage = pqErr.Message
	}

	return d
}
