package evm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	x402evm "github.com/openfacilitator/openfacilitator/go/mechanisms/evm"
	"github.com/openfacilitator/openfacilitator/go/pkg/logger"
)

// ChainClient submits facilitator transactions on one chain. It implements
// x402evm.ChainSigner.
type ChainClient struct {
	chain        x402evm.ChainConfig
	chainID      *big.Int
	rpc          EthClient
	key          *PrivateKey
	nonces       *NonceManager
	pollInterval time.Duration
	logger       logger.Logger
}

// BaseFee returns the base fee of the latest block, or the suggested gas
// price on chains whose headers carry none.
func (c *ChainClient) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err == nil && header != nil && header.BaseFee != nil {
		return header.BaseFee, nil
	}
	price, priceErr := c.rpc.SuggestGasPrice(ctx)
	if priceErr != nil {
		if err != nil {
			return nil, fmt.Errorf("failed to get latest header: %w", err)
		}
		return nil, fmt.Errorf("failed to get gas price: %w", priceErr)
	}
	return price, nil
}

func (c *ChainClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.rpc.SuggestGasTipCap(ctx)
}

// GetBalance returns the native balance of an address at the latest block.
func (c *ChainClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	balance, err := c.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// WriteContract packs the call, signs it as a dynamic-fee transaction with
// the next account nonce and broadcasts it.
func (c *ChainClient) WriteContract(ctx context.Context, call x402evm.ContractCall) (string, error) {
	if call.Fees == nil || call.Fees.MaxFeePerGas == nil || call.Fees.MaxPriorityFeePerGas == nil {
		return "", errors.New("dynamic fee fields are required")
	}
	if call.Gas == 0 {
		return "", errors.New("gas limit is required")
	}

	contractABI, err := abi.JSON(bytes.NewReader(call.ABI))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(call.Function, call.Args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s call: %w", call.Function, err)
	}

	to := common.HexToAddress(call.To)
	from := c.key.Address()

	var (
		txHash string
		sent   uint64
	)
	err = c.nonces.Submit(ctx, c.chain.ChainID, from, c.rpc, func(nonce uint64) error {
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: call.Fees.MaxPriorityFeePerGas,
			GasFeeCap: call.Fees.MaxFeePerGas,
			Gas:       call.Gas,
			To:        &to,
			Value:     big.NewInt(0),
			Data:      data,
		})

		signed, err := c.key.SignTx(tx, c.chainID)
		if err != nil {
			return fmt.Errorf("failed to sign transaction: %w", err)
		}
		if err := c.rpc.SendTransaction(ctx, signed); err != nil {
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		txHash = signed.Hash().Hex()
		sent = nonce
		return nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug("transaction broadcast", map[string]any{
		"function": call.Function,
		"to":       to.Hex(),
		"from":     from.Hex(),
		"nonce":    sent,
		"gas":      call.Gas,
		"tx":       txHash,
	})
	return txHash, nil
}

// WaitForTransactionReceipt polls until the transaction is mined; the
// inclusion block is the one confirmation settlement waits for. When ctx
// reaches its deadline first the outcome is unknown and
// x402evm.ErrConfirmationTimeout is returned.
func (c *ChainClient) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			var block uint64
			if receipt.BlockNumber != nil {
				block = receipt.BlockNumber.Uint64()
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: block,
				TxHash:      receipt.TxHash.Hex(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			c.logger.Warn("receipt query failed, retrying", map[string]any{"tx": txHash, "error": err.Error()})
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, x402evm.ErrConfirmationTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
