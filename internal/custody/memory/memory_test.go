package memory

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

var (
	venue = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	usd   = common.HexToAddress("0x0000000000000000000000000000000000000dd1")
)

func TestCustody_MoveRequiresCurrentHolder(t *testing.T) {
	ctx := context.Background()
	c := NewCustody()
	asset := domain.NFT(common.HexToAddress("0x00000000000000000000000000000000000000c0"), 1)

	_, err := c.OwnerOf(ctx, asset)
	require.ErrorIs(t, err, domain.ErrNotFound)

	c.Assign(asset, alice)
	require.ErrorIs(t, c.MoveAsset(ctx, asset, bob, venue), domain.ErrNotCustodian)
	require.NoError(t, c.MoveAsset(ctx, asset, alice, venue))

	owner, err := c.OwnerOf(ctx, asset)
	require.NoError(t, err)
	assert.Equal(t, venue, owner)

	ok, _ := c.IsApprovedForAll(ctx, alice, venue)
	assert.False(t, ok)
	c.SetApprovalForAll(alice, venue, true)
	ok, _ = c.IsApprovedForAll(ctx, alice, venue)
	assert.True(t, ok)
}

func TestPayments_TransferSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	p := NewPayments(venue)
	p.Mint(usd, alice, uint256.NewInt(100))

	err := p.Transfer(ctx, usd, alice, venue, uint256.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	require.ErrorIs(t, err, domain.ErrCollaborator)

	p.Approve(usd, alice, venue, uint256.NewInt(60))
	require.NoError(t, p.Transfer(ctx, usd, alice, venue, uint256.NewInt(50)))
	assert.Equal(t, uint64(10), p.Allowance(usd, alice, venue).Uint64())

	require.ErrorIs(t, p.Transfer(ctx, usd, venue, bob, uint256.NewInt(51)), domain.ErrInsufficientBalance)
	require.NoError(t, p.Transfer(ctx, usd, venue, bob, uint256.NewInt(50)))

	bal, _ := p.BalanceOf(ctx, usd, bob)
	assert.Equal(t, uint64(50), bal.Uint64())
}

func TestPayments_ReverseRestoresBalanceAndAllowance(t *testing.T) {
	ctx := context.Background()
	p := NewPayments(venue)
	p.Mint(usd, alice, uint256.NewInt(100))
	p.Approve(usd, alice, venue, uint256.NewInt(100))

	require.NoError(t, p.Transfer(ctx, usd, alice, venue, uint256.NewInt(40)))
	require.NoError(t, p.Reverse(ctx, usd, alice, venue, uint256.NewInt(40)))

	bal, _ := p.BalanceOf(ctx, usd, alice)
	assert.Equal(t, uint64(100), bal.Uint64())
	assert.Equal(t, uint64(100), p.Allowance(usd, alice, venue).Uint64())
}

func TestTiers_DefaultBase(t *testing.T) {
	tiers := NewTiers()
	tier, err := tiers.TierOf(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, domain.TierBase, tier)

	tiers.Set(alice, domain.TierTop)
	tier, _ = tiers.TierOf(context.Background(), alice)
	assert.Equal(t, domain.TierTop, tier)
}
