package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const routerABIJSON = `[
	{"name":"swapExactTokensForTokens","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForETH","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"WETH","type":"function","constant":true,"inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

var routerABI = mustParseABI(routerABIJSON)

var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Swap trades amountIn of assetIn for assetOut through the V2 router,
// delivering the output to recipient. Returns the received amount when it
// can be decoded from the swap receipt; callers only rely on
// success/failure.
func (c *Client) Swap(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut uint64, recipient string, deadline uint64) (uint64, error) {
	amountInBig := new(big.Int).SetUint64(amountIn)
	minOutBig := new(big.Int).SetUint64(minAmountOut)
	deadlineBig := new(big.Int).SetUint64(deadline)
	recipientAddr := common.HexToAddress(recipient)

	var data []byte
	var value *big.Int
	var err error

	switch {
	case c.isNative(assetIn):
		path := []common.Address{c.wethAddress(ctx), common.HexToAddress(assetOut)}
		data, err = routerABI.Pack("swapExactETHForTokens", minOutBig, path, recipientAddr, deadlineBig)
		value = amountInBig
	case c.isNative(assetOut):
		if err := c.approve(ctx, assetIn, c.routerAddr, amountIn); err != nil {
			return 0, fmt.Errorf("fail to approve router: %w", err)
		}
		path := []common.Address{common.HexToAddress(assetIn), c.wethAddress(ctx)}
		data, err = routerABI.Pack("swapExactTokensForETH", amountInBig, minOutBig, path, recipientAddr, deadlineBig)
		value = big.NewInt(0)
	default:
		if err := c.approve(ctx, assetIn, c.routerAddr, amountIn); err != nil {
			return 0, fmt.Errorf("fail to approve router: %w", err)
		}
		path := []common.Address{common.HexToAddress(assetIn), common.HexToAddress(assetOut)}
		data, err = routerABI.Pack("swapExactTokensForTokens", amountInBig, minOutBig, path, recipientAddr, deadlineBig)
		value = big.NewInt(0)
	}
	if err != nil {
		return 0, fmt.Errorf("fail to pack swap: %w", err)
	}

	receipt, err := c.sendAndWait(ctx, c.routerAddr, value, data)
	if err != nil {
		return 0, fmt.Errorf("swap failed: %w", err)
	}

	return decodeAmountOut(receipt, common.HexToAddress(assetOut), recipientAddr), nil
}

// wethAddress resolves the router's wrapped-native token, falling back to
// the zero address if the call fails (the swap itself still decides).
func (c *Client) wethAddress(ctx context.Context) common.Address {
	data, err := routerABI.Pack("WETH")
	if err != nil {
		return common.Address{}
	}
	out, err := c.rpc.CallContract(ctx, callMsg(c.routerAddr, data), nil)
	if err != nil {
		c.logger.WithError(err).Warn("fail to resolve router WETH address")
		return common.Address{}
	}
	results, err := routerABI.Unpack("WETH", out)
	if err != nil {
		return common.Address{}
	}
	addr, _ := results[0].(common.Address)
	return addr
}

// decodeAmountOut scans the swap receipt for the final Transfer of the
// output token to the recipient.
func decodeAmountOut(receipt *gtypes.Receipt, assetOut, recipient common.Address) uint64 {
	for i := len(receipt.Logs) - 1; i >= 0; i-- {
		lg := receipt.Logs[i]
		if lg.Address != assetOut || len(lg.Topics) != 3 || lg.Topics[0] != transferEventTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		if amount.IsUint64() {
			return amount.Uint64()
		}
		return 0
	}
	return 0
}
