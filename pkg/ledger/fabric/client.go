// Package fabric anchors certificate fingerprints through the certanchor
// chaincode using the Hyperledger Fabric Gateway.
package fabric

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hyperledger/fabric-gateway/pkg/client"
	"github.com/hyperledger/fabric-gateway/pkg/identity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/originhash-backend/pkg/config"
	"github.com/angelmondragon/originhash-backend/pkg/ledger"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

const (
	txStoreCertificate  = "StoreCertificate"
	txVerifyCertificate = "VerifyCertificate"
	txIsAuthorized      = "IsAuthorizedIssuer"

	commitStatusMaxTries = 6
)

var commitStatusInitialInterval = 200 * time.Millisecond

type commitResult struct {
	TransactionID string
	Successful    bool
	Code          string
	BlockNumber   uint64
}

// contract hides the gateway types so the driver can be exercised with fakes.
type contract interface {
	submitAsync(name string, args ...string) (txID string, status func() (commitResult, error), err error)
	evaluate(name string, args ...string) ([]byte, error)
}

type verifyResponse struct {
	Exists   bool   `json:"exists"`
	IPFSHash string `json:"ipfsHash"`
}

// Client implements ledger.Client against a Fabric channel.
type Client struct {
	contract contract
	conn     *grpc.ClientConn
	gateway  *client.Gateway
	logg     *logger.Logger
}

// Connect opens the gRPC connection and gateway described by cfg.
func Connect(cfg config.LedgerConfig, logg *logger.Logger) (*Client, error) {
	if cfg.FabricPeerEndpoint == "" {
		return nil, errors.New("fabric peer endpoint is required")
	}

	conn, err := newGrpcConnection(cfg)
	if err != nil {
		return nil, err
	}

	id, err := newIdentity(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	sign, err := newSign(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	gw, err := client.Connect(
		id,
		client.WithSign(sign),
		client.WithClientConnection(conn),
		client.WithEvaluateTimeout(cfg.QueryTimeout),
		client.WithEndorseTimeout(cfg.ConfirmTimeout),
		client.WithSubmitTimeout(cfg.ConfirmTimeout),
		client.WithCommitStatusTimeout(cfg.ConfirmTimeout),
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect fabric gateway: %w", err)
	}

	network := gw.GetNetwork(cfg.FabricChannel)
	c := &Client{
		contract: gatewayContract{contract: network.GetContract(cfg.FabricChaincode)},
		conn:     conn,
		gateway:  gw,
		logg:     logg,
	}

	if logg != nil {
		ctx := logg.WithFields(context.Background(), map[string]any{
			"channel":   cfg.FabricChannel,
			"chaincode": cfg.FabricChaincode,
			"msp_id":    cfg.FabricMSPID,
		})
		logg.Info(ctx, "fabric ledger client initialized")
	}
	return c, nil
}

func newGrpcConnection(cfg config.LedgerConfig) (*grpc.ClientConn, error) {
	pemBytes, err := os.ReadFile(cfg.FabricTLSCertPath)
	if err != nil {
		return nil, fmt.Errorf("read fabric tls cert: %w", err)
	}
	tlsCert, err := identity.CertificateFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse fabric tls cert: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(tlsCert)

	creds := credentials.NewClientTLSFromCert(pool, cfg.FabricGatewayPeer)
	conn, err := grpc.NewClient(cfg.FabricPeerEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial fabric peer: %w", err)
	}
	return conn, nil
}

func newIdentity(cfg config.LedgerConfig) (*identity.X509Identity, error) {
	pemBytes, err := os.ReadFile(cfg.FabricCertPath)
	if err != nil {
		return nil, fmt.Errorf("read fabric identity cert: %w", err)
	}
	cert, err := identity.CertificateFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse fabric identity cert: %w", err)
	}
	id, err := identity.NewX509Identity(cfg.FabricMSPID, cert)
	if err != nil {
		return nil, fmt.Errorf("build fabric identity: %w", err)
	}
	return id, nil
}

func newSign(cfg config.LedgerConfig) (identity.Sign, error) {
	pemBytes, err := os.ReadFile(cfg.FabricKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read fabric private key: %w", err)
	}
	key, err := identity.PrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse fabric private key: %w", err)
	}
	sign, err := identity.NewPrivateKeySign(key)
	if err != nil {
		return nil, fmt.Errorf("build fabric signer: %w", err)
	}
	return sign, nil
}

// Anchor endorses and submits StoreCertificate, then waits for the commit status.
func (c *Client) Anchor(ctx context.Context, fingerprint, contentID string) (ledger.Receipt, error) {
	fp, cid, err := ledger.ValidateAnchorArgs(fingerprint, contentID)
	if err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fingerprint, "", err)
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, "", err)
	}

	txID, statusFn, err := c.contract.submitAsync(txStoreCertificate, fp, cid)
	if err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, "", fmt.Errorf("submit %s: %w", txStoreCertificate, err))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = commitStatusInitialInterval

	result, err := backoff.Retry(ctx, func() (commitResult, error) {
		res, err := statusFn()
		if err != nil {
			if isTransient(err) {
				return commitResult{}, err
			}
			return commitResult{}, backoff.Permanent(err)
		}
		return res, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(commitStatusMaxTries),
	)
	if err != nil {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, txID, fmt.Errorf("commit status: %w", err))
	}
	if !result.Successful {
		return ledger.Receipt{}, ledger.NewAnchorError(fp, txID, fmt.Errorf("transaction invalidated: %s", result.Code))
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{"tx_hash": txID, "block_number": result.BlockNumber})
		c.logg.Info(logCtx, "fabric anchor committed")
	}

	return ledger.Receipt{TxHash: txID, BlockNumber: result.BlockNumber}, nil
}

// Query evaluates VerifyCertificate on a single peer.
func (c *Client) Query(ctx context.Context, fingerprint string) (ledger.Status, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return ledger.Status{}, ledger.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return ledger.Status{}, err
	}

	raw, err := c.contract.evaluate(txVerifyCertificate, fp)
	if err != nil {
		return ledger.Status{}, fmt.Errorf("evaluate %s: %w", txVerifyCertificate, err)
	}
	var out verifyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ledger.Status{}, fmt.Errorf("decode %s result: %w", txVerifyCertificate, err)
	}
	return ledger.Status{Exists: out.Exists, ContentID: out.IPFSHash}, nil
}

// Ping checks the gateway identity is an authorized issuer on the chaincode.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := c.contract.evaluate(txIsAuthorized)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", txIsAuthorized, err)
	}
	if strings.TrimSpace(string(raw)) != "true" {
		return errors.New("gateway identity is not an authorized issuer")
	}
	return nil
}

func (c *Client) Close() error {
	if c.gateway != nil {
		_ = c.gateway.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func isTransient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

type gatewayContract struct {
	contract *client.Contract
}

func (g gatewayContract) submitAsync(name string, args ...string) (string, func() (commitResult, error), error) {
	_, commit, err := g.contract.SubmitAsync(name, client.WithArguments(args...))
	if err != nil {
		return "", nil, err
	}
	statusFn := func() (commitResult, error) {
		st, err := commit.Status()
		if err != nil {
			return commitResult{}, err
		}
		return commitResult{
			TransactionID: st.TransactionID,
			Successful:    st.Successful,
			Code:          st.Code.String(),
			BlockNumber:   st.BlockNumber,
		}, nil
	}
	return commit.TransactionID(), statusFn, nil
}

func (g gatewayContract) evaluate(name string, args ...string) ([]byte, error) {
	return g.contract.EvaluateTransaction(name, args...)
}

var _ ledger.Client = (*Client)(nil)
