// Package certanchor is the Fabric chaincode that binds certificate
// fingerprints to IPFS content identifiers for authorized issuers.
package certanchor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

const (
	ownerKey          = "owner"
	certificatePrefix = "cert~"
	issuerPrefix      = "issuer~"

	// EventCertificateStored is emitted on every new binding.
	EventCertificateStored = "CertificateStored"
)

var (
	ErrNotInitialized = errors.New("contract not initialized")
	ErrNotOwner       = errors.New("caller is not the contract owner")
	ErrNotAuthorized  = errors.New("caller is not an authorized issuer")
	ErrAlreadyBound   = errors.New("fingerprint already bound to a different content id")
	ErrEmptyArgument  = errors.New("argument must not be empty")
)

// Contract implements the certificate anchor.
type Contract struct {
	contractapi.Contract
}

// Record is the stored binding.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	IPFSHash    string `json:"ipfsHash"`
	Issuer      string `json:"issuer"`
	TxID        string `json:"txId"`
}

// VerifyResult is returned by VerifyCertificate.
type VerifyResult struct {
	Exists   bool   `json:"exists"`
	IPFSHash string `json:"ipfsHash"`
}

// StoredEvent is the CertificateStored event payload.
type StoredEvent struct {
	Fingerprint string `json:"fingerprint"`
	IPFSHash    string `json:"ipfsHash"`
	Issuer      string `json:"issuer"`
}

// InitLedger records the caller as owner and first authorized issuer.
func (c *Contract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	existing, err := ctx.GetStub().GetState(ownerKey)
	if err != nil {
		return fmt.Errorf("read owner: %w", err)
	}
	if existing != nil {
		return errors.New("contract already initialized")
	}
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(ownerKey, []byte(caller)); err != nil {
		return fmt.Errorf("write owner: %w", err)
	}
	return ctx.GetStub().PutState(issuerPrefix+caller, []byte("true"))
}

// StoreCertificate binds fingerprint to ipfsHash. Repeating an identical binding is a no-op.
func (c *Contract) StoreCertificate(ctx contractapi.TransactionContextInterface, fingerprint string, ipfsHash string) error {
	fingerprint = strings.TrimSpace(fingerprint)
	ipfsHash = strings.TrimSpace(ipfsHash)
	if fingerprint == "" || ipfsHash == "" {
		return ErrEmptyArgument
	}

	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	authorized, err := c.isAuthorized(ctx, caller)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrNotAuthorized
	}

	existing, err := c.readRecord(ctx, fingerprint)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.IPFSHash == ipfsHash {
			return nil
		}
		return ErrAlreadyBound
	}

	record := Record{
		Fingerprint: fingerprint,
		IPFSHash:    ipfsHash,
		Issuer:      caller,
		TxID:        ctx.GetStub().GetTxID(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := ctx.GetStub().PutState(certificatePrefix+fingerprint, raw); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	event, err := json.Marshal(StoredEvent{Fingerprint: fingerprint, IPFSHash: ipfsHash, Issuer: caller})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return ctx.GetStub().SetEvent(EventCertificateStored, event)
}

// VerifyCertificate returns the binding for fingerprint, if any.
func (c *Contract) VerifyCertificate(ctx contractapi.TransactionContextInterface, fingerprint string) (*VerifyResult, error) {
	record, err := c.readRecord(ctx, strings.TrimSpace(fingerprint))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &VerifyResult{}, nil
	}
	return &VerifyResult{Exists: true, IPFSHash: record.IPFSHash}, nil
}

// CertificateExists reports whether fingerprint has a binding.
func (c *Contract) CertificateExists(ctx contractapi.TransactionContextInterface, fingerprint string) (bool, error) {
	record, err := c.readRecord(ctx, strings.TrimSpace(fingerprint))
	if err != nil {
		return false, err
	}
	return record != nil, nil
}

// AddAuthorizedIssuer is restricted to the owner.
func (c *Contract) AddAuthorizedIssuer(ctx contractapi.TransactionContextInterface, issuerID string) error {
	if err := c.requireOwner(ctx); err != nil {
		return err
	}
	issuerID = strings.TrimSpace(issuerID)
	if issuerID == "" {
		return ErrEmptyArgument
	}
	return ctx.GetStub().PutState(issuerPrefix+issuerID, []byte("true"))
}

// RemoveAuthorizedIssuer is restricted to the owner.
func (c *Contract) RemoveAuthorizedIssuer(ctx contractapi.TransactionContextInterface, issuerID string) error {
	if err := c.requireOwner(ctx); err != nil {
		return err
	}
	issuerID = strings.TrimSpace(issuerID)
	if issuerID == "" {
		return ErrEmptyArgument
	}
	return ctx.GetStub().DelState(issuerPrefix + issuerID)
}

// IsAuthorizedIssuer reports whether the caller may anchor.
func (c *Contract) IsAuthorizedIssuer(ctx contractapi.TransactionContextInterface) (bool, error) {
	caller, err := callerID(ctx)
	if err != nil {
		return false, err
	}
	return c.isAuthorized(ctx, caller)
}

func (c *Contract) isAuthorized(ctx contractapi.TransactionContextInterface, id string) (bool, error) {
	raw, err := ctx.GetStub().GetState(issuerPrefix + id)
	if err != nil {
		return false, fmt.Errorf("read issuer: %w", err)
	}
	return string(raw) == "true", nil
}

func (c *Contract) requireOwner(ctx contractapi.TransactionContextInterface) error {
	owner, err := ctx.GetStub().GetState(ownerKey)
	if err != nil {
		return fmt.Errorf("read owner: %w", err)
	}
	if owner == nil {
		return ErrNotInitialized
	}
	caller, err := callerID(ctx)
	if err != nil {
		return err
	}
	if string(owner) != caller {
		return ErrNotOwner
	}
	return nil
}

func (c *Contract) readRecord(ctx contractapi.TransactionContextInterface, fingerprint string) (*Record, error) {
	if fingerprint == "" {
		return nil, ErrEmptyArgument
	}
	raw, err := ctx.GetStub().GetState(certificatePrefix + fingerprint)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &record, nil
}

func callerID(ctx contractapi.TransactionContextInterface) (string, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("read caller identity: %w", err)
	}
	return id, nil
}
