package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Transfer moves amount of asset from the escrow account to the given
// address. The native asset goes out as a plain value transfer.
func (c *Client) Transfer(ctx context.Context, asset, to string, amount uint64) error {
	value := new(big.Int).SetUint64(amount)
	toAddr := common.HexToAddress(to)

	if c.isNative(asset) {
		_, err := c.sendAndWait(ctx, toAddr, value, nil)
		return err
	}

	data, err := erc20ABI.Pack("transfer", toAddr, value)
	if err != nil {
		return fmt.Errorf("fail to pack transfer: %w", err)
	}
	_, err = c.sendAndWait(ctx, common.HexToAddress(asset), big.NewInt(0), data)
	return err
}

// TransferFrom pulls amount of asset from the given account into escrow
// (or any other destination) against a pre-existing approval.
func (c *Client) TransferFrom(ctx context.Context, asset, from, to string, amount uint64) error {
	if c.isNative(asset) {
		return fmt.Errorf("transferFrom is not supported for the native asset")
	}

	data, err := erc20ABI.Pack("transferFrom",
		common.HexToAddress(from),
		common.HexToAddress(to),
		new(big.Int).SetUint64(amount),
	)
	if err != nil {
		return fmt.Errorf("fail to pack transferFrom: %w", err)
	}
	_, err = c.sendAndWait(ctx, common.HexToAddress(asset), big.NewInt(0), data)
	return err
}

// Allowance returns how much of asset the owner has approved the escrow
// account to spend.
func (c *Client) Allowance(ctx context.Context, asset, owner string) (uint64, error) {
	if c.isNative(asset) {
		return 0, fmt.Errorf("allowance is not supported for the native asset")
	}

	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), c.escrow)
	if err != nil {
		return 0, fmt.Errorf("fail to pack allowance: %w", err)
	}

	out, err := c.rpc.CallContract(ctx, callMsg(common.HexToAddress(asset), data), nil)
	if err != nil {
		return 0, fmt.Errorf("fail to call allowance: %w", err)
	}

	results, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return 0, fmt.Errorf("fail to unpack allowance: %w", err)
	}
	allowance, ok := results[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected allowance result type")
	}
	if !allowance.IsUint64() {
		// Clamp unlimited approvals.
		return ^uint64(0), nil
	}
	return allowance.Uint64(), nil
}

func (c *Client) approve(ctx context.Context, asset string, spender common.Address, amount uint64) error {
	data, err := erc20ABI.Pack("approve", spender, new(big.Int).SetUint64(amount))
	if err != nil {
		return fmt.Errorf("fail to pack approve: %w", err)
	}
	_, err = c.sendAndWait(ctx, common.HexToAddress(asset), big.NewInt(0), data)
	return err
}
