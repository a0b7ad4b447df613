// Package chain implements the asset-transfer and swap-routing
// collaborators on top of an EVM endpoint. The escrow account is the
// address of the configured signing key; all outbound transfers and swaps
// are signed and sent from it.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

type Config struct {
	RPC         string `mapstructure:"rpc" json:"rpc,omitempty"`
	PrivateKey  string `mapstructure:"private_key" json:"private_key,omitempty"`
	NativeAsset string `mapstructure:"native_asset" json:"native_asset,omitempty"`
	GasLimit    uint64 `mapstructure:"gas_limit" json:"gas_limit,omitempty"`
	Uniswap     struct {
		V2Router string `mapstructure:"v2_router" json:"v2_router,omitempty"`
	} `mapstructure:"uniswap" json:"uniswap,omitempty"`
}

type Client struct {
	rpc         *ethclient.Client
	key         *ecdsa.PrivateKey
	escrow      common.Address
	chainID     *big.Int
	routerAddr  common.Address
	nativeAsset string
	gasLimit    uint64
	nonce       *NonceManager
	logger      logrus.FieldLogger
}

func NewClient(cfg Config, logger logrus.FieldLogger) (*Client, error) {
	rpcClient, err := ethclient.Dial(cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("fail to dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("fail to parse escrow key: %w", err)
	}

	chainID, err := rpcClient.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("fail to get chain id: %w", err)
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 300_000
	}

	return &Client{
		rpc:         rpcClient,
		key:         key,
		escrow:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		routerAddr:  common.HexToAddress(cfg.Uniswap.V2Router),
		nativeAsset: cfg.NativeAsset,
		gasLimit:    gasLimit,
		nonce:       NewNonceManager(rpcClient),
		logger:      logger,
	}, nil
}

// EscrowAddress is the account the service holds pre-funded escrow under.
func (c *Client) EscrowAddress() string {
	return c.escrow.Hex()
}

func (c *Client) isNative(asset string) bool {
	return strings.EqualFold(asset, c.nativeAsset)
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

// sendAndWait signs a transaction from the escrow account, broadcasts it
// and waits for it to be mined. A reverted receipt is an error.
func (c *Client) sendAndWait(ctx context.Context, to common.Address, value *big.Int, data []byte) (*gtypes.Receipt, error) {
	nonce, err := c.nonce.Next(ctx, c.escrow)
	if err != nil {
		return nil, fmt.Errorf("fail to get nonce: %w", err)
	}

	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		c.nonce.Reset(c.escrow)
		return nil, fmt.Errorf("fail to suggest gas price: %w", err)
	}

	tx := gtypes.NewTx(&gtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := gtypes.SignTx(tx, gtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		c.nonce.Reset(c.escrow)
		return nil, fmt.Errorf("fail to sign transaction: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		c.nonce.Reset(c.escrow)
		return nil, fmt.Errorf("fail to send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.rpc, signed)
	if err != nil {
		return nil, fmt.Errorf("fail to wait for transaction %s: %w", signed.Hash(), err)
	}
	if receipt.Status != gtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", signed.Hash())
	}
	return receipt, nil
}

// NonceManager hands out sequential nonces for the escrow account and
// resyncs from the node after a send failure.
type NonceManager struct {
	rpc   *ethclient.Client
	mu    sync.Mutex
	next  map[common.Address]uint64
	known map[common.Address]bool
}

func NewNonceManager(rpc *ethclient.Client) *NonceManager {
	return &NonceManager{
		rpc:   rpc,
		next:  make(map[common.Address]uint64),
		known: make(map[common.Address]bool),
	}
}

func (n *NonceManager) Next(ctx context.Context, address common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.known[address] {
		pending, err := n.rpc.PendingNonceAt(ctx, address)
		if err != nil {
			return 0, err
		}
		n.next[address] = pending
		n.known[address] = true
	}

	nonce := n.next[address]
	n.next[address]++
	return nonce, nil
}

func (n *NonceManager) Reset(address common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.known[address] = false
}
