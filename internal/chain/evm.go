package chain

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "TopEquations/internal/errors"
)

// evmBackend is the subset of ethclient.Client used to anchor certificates.
type evmBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
}

// EVMLedger anchors metadata hashes on an EVM chain as the calldata of a
// zero-value transaction the wallet sends to itself.
type EVMLedger struct {
	backend  evmBackend
	signer   *Signer
	chainID  *big.Int
	endpoint string
}

// DialEVMLedger connects to an EVM JSON-RPC endpoint.
func DialEVMLedger(ctx context.Context, rpcURL string, chainID int64, signer *Signer) (*EVMLedger, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置 EVM RPC 地址")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "连接 EVM 节点失败", xerrors.WithMetadata("rpc_url", rpcURL))
	}
	id := big.NewInt(chainID)
	if chainID <= 0 {
		if id, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询链 ID 失败")
		}
	}
	return NewEVMLedger(client, signer, id, rpcURL)
}

// NewEVMLedger wraps an existing backend.
func NewEVMLedger(backend evmBackend, signer *Signer, chainID *big.Int, endpoint string) (*EVMLedger, error) {
	if backend == nil || signer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "EVM 账本缺少后端或签名器")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "链 ID 必须为正数")
	}
	return &EVMLedger{backend: backend, signer: signer, chainID: chainID, endpoint: endpoint}, nil
}

// Endpoint returns the RPC URL.
func (l *EVMLedger) Endpoint() string { return l.endpoint }

// Submit signs a legacy transaction carrying the metadata hash and sends it.
// Response.Body holds the transaction hash.
func (l *EVMLedger) Submit(ctx context.Context, signed SignedTransaction) (Response, error) {
	data, err := hex.DecodeString(signed.Transaction.MetadataHash)
	if err != nil || len(data) != 32 {
		return Response{}, xerrors.New(xerrors.CodeInvalidArgument, "metadata_hash 不是 32 字节十六进制",
			xerrors.WithEquation(signed.Transaction.EquationID))
	}
	from := l.signer.Address()
	nonce, err := l.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询 nonce 失败")
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询 gas 价格失败")
	}
	gas, err := l.backend.EstimateGas(ctx, gethcore.CallMsg{From: from, To: &from, Value: big.NewInt(0), Data: data})
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "估算 gas 失败")
	}
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &from,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(l.chainID), l.signer.key)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeUnknown, err, "签名 EVM 交易失败")
	}
	if err := l.backend.SendTransaction(ctx, signedTx); err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "发送 EVM 交易失败")
	}
	return Response{Status: http.StatusOK, Body: signedTx.Hash().Hex()}, nil
}

// Mine reports the latest block number; EVM networks produce blocks on
// their own.
func (l *EVMLedger) Mine(ctx context.Context) (Response, error) {
	n, err := l.backend.BlockNumber(ctx)
	if err != nil {
		return Response{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "查询区块高度失败")
	}
	return Response{Status: http.StatusOK, Body: new(big.Int).SetUint64(n).String()}, nil
}

var _ Ledger = (*EVMLedger)(nil)
