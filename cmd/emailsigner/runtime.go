package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"email-signer/backend"
	"email-signer/flow"
	"email-signer/relayer"
	"email-signer/safe"
	"email-signer/shared"
	"email-signer/signer"
	"email-signer/store"
)

// runtime holds every wired collaborator for one command invocation
type runtime struct {
	config     *shared.AppConfig
	logger     *shared.Logger
	store      *store.Store
	client     *ethclient.Client
	controller *flow.Controller
}

func newRuntime(ctx *cli.Context) (*runtime, error) {
	cfg, err := shared.LoadAppConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %v", err)
	}

	trusted, err := trustedDelegateCalls(ctx)
	if err != nil {
		return nil, err
	}

	wallet, err := signer.NewWallet(cfg.DeployerPrivateKey, cfg.ChainID)
	if err != nil {
		return nil, err
	}

	chain, client, err := signer.Dial(ctx.Context, cfg.RPCURL, cfg.SignerFactoryAddress, logger)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenStore(cfg.StorePath, logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	controller := flow.NewController(flow.Dependencies{
		Relayer:   relayer.NewClient(cfg.RelayerURL, cfg.HTTPTimeout, logger),
		Chain:     chain,
		Store:     st,
		Inspector: safe.NewTxService(cfg.SafeTxServiceURL, cfg.HTTPTimeout, logger),
		Vaults:    safe.NewDeployer(client, safe.ConfigFromApp(cfg), logger),
		Backend:   backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, logger),
		Wallet:    wallet,
	}, flow.Options{
		ChainID:             cfg.ChainID,
		PollInterval:        cfg.PollInterval,
		PollMaxRetries:      cfg.PollMaxRetries,
		TrustedDelegateCall: trusted,
	}, logger)

	logger.Info("Email signer ready",
		zap.String("wallet", wallet.Address.Hex()),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("factory", cfg.SignerFactoryAddress.Hex()),
		zap.String("store", cfg.StorePath))

	return &runtime{
		config:     cfg,
		logger:     logger,
		store:      st,
		client:     client,
		controller: controller,
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Warn("Failed to close store", zap.Error(err))
	}
	r.client.Close()
	r.logger.Sync()
}

// newLogger reads the environment after LoadAppConfig has applied .env; --quiet
// overrides it
func newLogger(ctx *cli.Context) (*shared.Logger, error) {
	if ctx.Bool(quietFlag.Name) {
		return shared.NewLogger(shared.LoggerConfig{ServiceName: "emailsigner", Quiet: true})
	}
	return shared.NewLoggerFromEnv("emailsigner")
}

// trustedDelegateCalls returns the opt-in delegatecall targets; without the flag
// every delegatecall is flagged in the email
func trustedDelegateCalls(ctx *cli.Context) ([]common.Address, error) {
	return parseAddresses(ctx.StringSlice(trustedDelegateFlag.Name))
}

func parseAddresses(values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid address %q", v)
		}
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}

// signalContext is cancelled on the first SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
