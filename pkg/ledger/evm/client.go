// Package evm anchors certificate fingerprints on an EVM chain through the
// certificate registry contract.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

// boundContract is the subset of *bind.BoundContract used here.
type boundContract interface {
	Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error)
	Call(opts *bind.CallOpts, results *[]interface{}, method string, params ...interface{}) error
}

type minedWaiter func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

// Client implements ledger.Client against the registry contract.
type Client struct {
	contract boundContract
	wait     minedWaiter
	auth     *bind.TransactOpts
	gasLimit uint64
	closer   func()
	logg     *logger.Logger

	// serialises submissions so pending nonces do not collide
	mu sync.Mutex
}

// Dial connects to the RPC endpoint and binds the registry contract.
func Dial(ctx context.Context, cfg config.LedgerConfig, logg *logger.Logger) (*Client, error) {
	if cfg.EVMRPCURL == "" {
		return nil, errors.New("evm rpc url is required")
	}
	if !common.IsHexAddress(cfg.EVMContractAddress) {
		return nil, fmt.Errorf("invalid evm contract address %q", cfg.EVMContractAddress)
	}
	key, err := parsePrivateKey(cfg.EVMPrivateKey)
	if err != nil {
		return nil, err
	}

	rpc, err := ethclient.DialContext(ctx, cfg.EVMRPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}

	chainID := big.NewInt(cfg.EVMChainID)
	if cfg.EVMChainID <= 0 {
		chainID, err = rpc.ChainID(ctx)
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("read chain id: %w", err)
		}
	}

	parsed, err := abi.JSON(strings.NewReader(CertificateRegistryABI))
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	address := common.HexToAddress(cfg.EVMContractAddress)
	contract := bind.NewBoundContract(address, parsed, rpc, rpc, rpc)

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"contract": address.Hex(),
			"chain_id": chainID.String(),
			"issuer":   auth.From.Hex(),
		})
		logg.Info(logCtx, "evm ledger client initialized")
	}

	return &Client{
		contract: contract,
		wait: func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
			return bind.WaitMined(ctx, rpc, tx)
		},
		auth:     auth,
		gasLimit: cfg.EVMGasLimit,
		closer:   rpc.Close,
		logg:     logg,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errors.New("evm private key is required")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse evm private key: %w", err)
	}
	return key, nil
}

// Anchor submits storeCertificate and waits for the receipt.
func (c *Client) Anchor(ctx context.Context, fingerprint, contentID string) (ledger.Receipt, error) {
	fp, cid, err := ledger.ValidateAnchorArgs(fingerprint, contentID)
	if err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fingerprint, "", err)
	}

	tx, err := c.submit(ctx, fp, cid)
	if err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, "", err)
	}
	txHash := tx.Hash().Hex()

	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "tx_hash", txHash), "anchor transaction broadcast")
	}

	receipt, err := c.wait(ctx, tx)
	if err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, txHash, errors.New("transaction reverted"))
	}

	out := ledger.Receipt{TxHash: txHash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, fp, cid string) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := *c.auth
	opts.Context = ctx
	if c.gasLimit > 0 {
		opts.GasLimit = c.gasLimit
	}
	tx, err := c.contract.Transact(&opts, methodStore, fp, cid)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", methodStore, err)
	}
	return tx, nil
}

// Query calls verifyCertificate.
func (c *Client) Query(ctx context.Context, fingerprint string) (ledger.Status, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return ledger.Status{}, ledger.ErrInvalidArgument
	}

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodVerify, fp); err != nil {
		return ledger.Status{}, fmt.Errorf("call %s: %w", methodVerify, err)
	}
	if len(out) != 2 {
		return ledger.Status{}, fmt.Errorf("%s returned %d values", methodVerify, len(out))
	}
	exists, ok := out[0].(bool)
	if !ok {
		return ledger.Status{}, fmt.Errorf("%s: unexpected exists type %T", methodVerify, out[0])
	}
	contentID, ok := out[1].(string)
	if !ok {
		return ledger.Status{}, fmt.Errorf("%s: unexpected ipfs hash type %T", methodVerify, out[1])
	}
	return ledger.Status{Exists: exists, ContentID: contentID}, nil
}

// IsAuthorizedIssuer reports whether the signing account may anchor.
func (c *Client) IsAuthorizedIssuer(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodAuthorizedIssuer, c.auth.From); err != nil {
		return false, fmt.Errorf("call %s: %w", methodAuthorizedIssuer, err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%s returned %d values", methodAuthorizedIssuer, len(out))
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

// Ping checks the signer is still an authorized issuer.
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.IsAuthorizedIssuer(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("account %s is not an authorized issuer", c.auth.From.Hex())
	}
	return nil
}

func (c *Client) Close() error {
	if c.closer != nil {
		c.closer()
	}
	return nil
}
