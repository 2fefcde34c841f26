package settle

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/custody/memory"
	"github.com/alanyoungcy/tradevenue/internal/domain"
)

var (
	venue  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	token  = common.HexToAddress("0x0000000000000000000000000000000000000dd1")
	nft    = domain.NFT(common.HexToAddress("0x00000000000000000000000000000000000000c0"), 9)
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

func TestRollback_UndoesInReverse(t *testing.T) {
	ctx := context.Background()
	pay := memory.NewPayments(venue)
	pay.Mint(token, alice, uint256.NewInt(100))
	pay.Approve(token, alice, venue, uint256.NewInt(100))
	cust := memory.NewCustody()
	cust.Assign(nft, bob)

	s := New(pay, cust, nil, logger)
	require.NoError(t, s.Transfer(ctx, "collect", token, alice, venue, uint256.NewInt(60)))
	require.NoError(t, s.Transfer(ctx, "forward", token, venue, bob, uint256.NewInt(60)))
	require.NoError(t, s.MoveAsset(ctx, "deliver", nft, bob, alice))

	err := s.Transfer(ctx, "overdraw", token, alice, venue, uint256.NewInt(41))
	require.ErrorIs(t, err, domain.ErrCollaborator)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, 3, s.Steps())

	s.Rollback(ctx)
	assert.Zero(t, s.Steps())

	bal, _ := pay.BalanceOf(ctx, token, alice)
	assert.Equal(t, uint64(100), bal.Uint64())
	bal, _ = pay.BalanceOf(ctx, token, bob)
	assert.True(t, bal.IsZero())
	owner, _ := cust.OwnerOf(ctx, nft)
	assert.Equal(t, bob, owner)
	assert.Equal(t, uint64(100), pay.Allowance(token, alice, venue).Uint64())
}

func TestTransfer_ZeroAmountIsSkipped(t *testing.T) {
	s := New(memory.NewPayments(venue), nil, nil, logger)
	require.NoError(t, s.Transfer(context.Background(), "fee", token, venue, bob, new(uint256.Int)))
	assert.Zero(t, s.Steps())
}
