// Package chain fetches on-chain token facts the reward engine needs: a
// mint's decimals and its owning token program.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/pledgeworks/pledge/utils/pkg/retry"
)

var (
	// ErrInvalidMint means the configured mint address is not a valid
	// public key.
	ErrInvalidMint = errors.New("invalid mint address")
	// ErrMintNotFound means the mint account does not exist on chain.
	ErrMintNotFound = errors.New("mint account not found")
)

// MintFacts are the chain-derived facts stamped onto a distribution at
// creation time.
type MintFacts struct {
	Decimals            uint8
	TokenProgramAddress string
}

// RPCConfig configures the Solana-backed facts provider.
type RPCConfig struct {
	Logger   *slog.Logger
	Endpoint string
	Retry    retry.Config
}

func (cfg *RPCConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Endpoint == "" {
		return errors.New("rpc endpoint is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// RPC fetches mint facts over Solana JSON-RPC.
type RPC struct {
	log    *slog.Logger
	cfg    RPCConfig
	client *solanarpc.Client
}

// NewRPC creates a Solana-backed mint facts provider.
func NewRPC(cfg RPCConfig) (*RPC, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RPC{
		log:    cfg.Logger,
		cfg:    cfg,
		client: solanarpc.New(cfg.Endpoint),
	}, nil
}

// MintFacts returns decimals and the owning token program for a mint.
// Transient RPC failures are retried with backoff; a missing account is
// reported as ErrMintNotFound, not retried.
func (c *RPC) MintFacts(ctx context.Context, mintAddress string) (*MintFacts, error) {
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidMint, mintAddress, err)
	}

	var resp *solanarpc.GetAccountInfoResult
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var rpcErr error
		resp, rpcErr = c.client.GetAccountInfo(ctx, mint)
		if errors.Is(rpcErr, solanarpc.ErrNotFound) {
			return nil
		}
		return rpcErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mint account %s: %w", mintAddress, err)
	}
	if resp == nil || resp.Value == nil {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, mintAddress)
	}

	acct := resp.Value
	var m token.Mint
	if err := m.UnmarshalWithDecoder(bin.NewBinDecoder(acct.Data.GetBinary())); err != nil {
		return nil, fmt.Errorf("failed to decode mint account %s: %w", mintAddress, err)
	}

	facts := &MintFacts{
		Decimals:            m.Decimals,
		TokenProgramAddress: acct.Owner.String(),
	}
	c.log.Debug("chain: fetched mint facts", "mint", mintAddress, "decimals", facts.Decimals, "token_program", facts.TokenProgramAddress)
	return facts, nil
}
