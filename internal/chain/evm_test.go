package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TopEquations/internal/certificate"
	xerrors "TopEquations/internal/errors"
)

type fakeBackend struct {
	sent    []*coretypes.Transaction
	sendErr error
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (b *fakeBackend) EstimateGas(_ context.Context, msg gethcore.CallMsg) (uint64, error) {
	return 21000 + uint64(16*len(msg.Data)), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *coretypes.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, nil }

func TestEVMLedgerAnchorsMetadataHash(t *testing.T) {
	s := newSigner(t)
	backend := &fakeBackend{}
	ledger, err := NewEVMLedger(backend, s, big.NewInt(1337), "http://evm.local")
	require.NoError(t, err)

	cert := certificate.Certificate{TokenID: "eq-a", EquationLatex: "a=b", Version: 1}
	require.NoError(t, cert.Seal())
	signed, err := SignTransaction(s, NewTransaction(s.PublicKey(), cert, time.Unix(0, 0)))
	require.NoError(t, err)

	resp, err := ledger.Submit(context.Background(), signed)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Hash().Hex(), resp.Body)
	assert.True(t, resp.OK())
	assert.Equal(t, s.Address(), *tx.To())
	assert.Zero(t, tx.Value().Sign())
	assert.Equal(t, cert.MetadataHash, hex.EncodeToString(tx.Data()))

	from, err := coretypes.Sender(coretypes.LatestSignerForChainID(big.NewInt(1337)), tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)

	mined, err := ledger.Mine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", mined.Body)

	signed.Transaction.MetadataHash = "not-hex"
	_, err = ledger.Submit(context.Background(), signed)
	assert.True(t, xerrors.IsCode(err, xerrors.CodeInvalidArgument))

	backend.sendErr = errors.New("nonce too low")
	signed.Transaction.MetadataHash = cert.MetadataHash
	_, err = ledger.Submit(context.Background(), signed)
	assert.True(t, xerrors.IsCode(err, xerrors.CodeLedgerFailure))

	_, err = NewEVMLedger(backend, s, big.NewInt(0), "")
	assert.Error(t, err)
}
