package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/angelmondragon/originhash-backend/pkg/ledger"
)

type fakeContract struct {
	transactErr  error
	transactArgs []interface{}
	transactCtx  context.Context
	gasLimit     uint64
	callOut      []interface{}
	callErr      error
	callMethod   string
}

func (f *fakeContract) Transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	f.transactArgs = append([]interface{}{method}, params...)
	f.transactCtx = opts.Context
	f.gasLimit = opts.GasLimit
	return types.NewTx(&types.LegacyTx{Nonce: 1, To: &common.Address{}, Gas: 100000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeContract) Call(_ *bind.CallOpts, results *[]interface{}, method string, _ ...interface{}) error {
	f.callMethod = method
	if f.callErr != nil {
		return f.callErr
	}
	*results = f.callOut
	return nil
}

func newTestClient(t *testing.T, contract boundContract, wait minedWaiter) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(11155111))
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}
	return &Client{contract: contract, wait: wait, auth: auth, gasLimit: 250000}
}

func TestAnchorReturnsReceipt(t *testing.T) {
	contract := &fakeContract{}
	client := newTestClient(t, contract, func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12345), GasUsed: 48000, TxHash: tx.Hash()}, nil
	})

	receipt, err := client.Anchor(context.Background(), "rec-1", "bafy-doc")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if receipt.BlockNumber != 12345 || receipt.GasUsed != 48000 || receipt.TxHash == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(contract.transactArgs) != 3 || contract.transactArgs[0] != methodStore || contract.transactArgs[1] != "rec-1" || contract.transactArgs[2] != "bafy-doc" {
		t.Fatalf("unexpected transact args %v", contract.transactArgs)
	}
	if contract.gasLimit != 250000 {
		t.Fatalf("expected gas limit override, got %d", contract.gasLimit)
	}
}

func TestAnchorRevertedReceiptIsAnchorError(t *testing.T) {
	client := newTestClient(t, &fakeContract{}, func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}, nil
	})

	_, err := client.Anchor(context.Background(), "rec-1", "bafy-doc")
	var anchorErr *ledger.AnchorError
	if !errors.As(err, &anchorErr) {
		t.Fatalf("expected AnchorError, got %v", err)
	}
	if anchorErr.TxHash == "" || anchorErr.Reason != "transaction reverted" {
		t.Fatalf("unexpected anchor error %+v", anchorErr)
	}
}

func TestAnchorTimeoutIsAnchorError(t *testing.T) {
	client := newTestClient(t, &fakeContract{}, func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Anchor(ctx, "rec-1", "bafy-doc")
	var anchorErr *ledger.AnchorError
	if !errors.As(err, &anchorErr) {
		t.Fatalf("expected AnchorError, got %v", err)
	}
	if anchorErr.Reason != "confirmation timed out" {
		t.Fatalf("unexpected reason %q", anchorErr.Reason)
	}
}

func TestAnchorSubmitFailureSkipsWait(t *testing.T) {
	waited := false
	client := newTestClient(t, &fakeContract{transactErr: errors.New("execution reverted: not authorized")}, func(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
		waited = true
		return nil, nil
	})

	if _, err := client.Anchor(context.Background(), "rec-1", "bafy-doc"); err == nil {
		t.Fatal("expected submit failure")
	}
	if waited {
		t.Fatal("wait should not run when submit fails")
	}
	if _, err := client.Anchor(context.Background(), "", "bafy-doc"); !errors.Is(err, ledger.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestQueryDecodesVerifyCertificate(t *testing.T) {
	contract := &fakeContract{callOut: []interface{}{true, "bafy-doc"}}
	client := newTestClient(t, contract, nil)

	status, err := client.Query(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !status.Exists || status.ContentID != "bafy-doc" || contract.callMethod != methodVerify {
		t.Fatalf("unexpected status %+v method=%s", status, contract.callMethod)
	}

	contract.callOut = []interface{}{"nope"}
	if _, err := client.Query(context.Background(), "rec-1"); err == nil {
		t.Fatal("expected malformed output to fail")
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	parsed, err := parsePrivateKey(hexKey)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if crypto.PubkeyToAddress(parsed.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("parsed key does not match")
	}
	if _, err := parsePrivateKey(""); err == nil {
		t.Fatal("expected empty key to fail")
	}
}
