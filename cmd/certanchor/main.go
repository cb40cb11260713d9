package main

import (
	"context"
	"os"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/angelmondragon/originhash-backend/chaincode/certanchor"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

// Chaincode-as-a-service settings are injected by the peer deployment.
const (
	envServerAddress = "CHAINCODE_SERVER_ADDRESS"
	envChaincodeID   = "CHAINCODE_ID"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "certanchor"})
	ctx := context.Background()

	cc, err := contractapi.NewChaincode(new(certanchor.Contract))
	if err != nil {
		logg.Error(ctx, "failed to create chaincode", err)
		os.Exit(1)
	}
	cc.Info.Title = "certanchor"
	cc.Info.Version = "1.0.0"

	address := os.Getenv(envServerAddress)
	if address == "" {
		logg.Info(ctx, "starting certanchor chaincode")
		if err := cc.Start(); err != nil {
			logg.Error(ctx, "chaincode stopped", err)
			os.Exit(1)
		}
		return
	}

	server := &shim.ChaincodeServer{
		CCID:     os.Getenv(envChaincodeID),
		Address:  address,
		CC:       cc,
		TLSProps: shim.TLSProperties{Disabled: true},
	}
	ctx = logg.WithField(ctx, "address", address)
	logg.Info(ctx, "starting certanchor chaincode server")
	if err := server.Start(); err != nil {
		logg.Error(ctx, "chaincode server stopped", err)
		os.Exit(1)
	}
}
