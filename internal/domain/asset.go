package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AssetID identifies a tradable unit. Non-fungible units are keyed as
// "<contract>/<tokenID>", fungible tokens by their checksummed address.
type AssetID string

// NFT returns the identifier of token tokenID in collection contract.
func NFT(contract common.Address, tokenID uint64) AssetID {
	return AssetID(fmt.Sprintf("%s/%d", contract.Hex(), tokenID))
}

// Token returns the identifier of a fungible token.
func Token(addr common.Address) AssetID {
	return AssetID(addr.Hex())
}

// ParseAssetID validates s and returns it in canonical (checksummed) form.
func ParseAssetID(s string) (AssetID, error) {
	contract, rest, hasToken := strings.Cut(strings.TrimSpace(s), "/")
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("%w: asset %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(contract)
	if !hasToken {
		return Token(addr), nil
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: asset %q", ErrInvalidAddress, s)
	}
	return NFT(addr, id), nil
}

// String implements fmt.Stringer.
func (a AssetID) String() string { return string(a) }

// Tier is a caller's pre-computed loyalty classification.
type Tier uint8

const (
	TierBase Tier = iota
	TierMidLow
	TierMidHigh
	TierTop

	// NumTiers is the size of the closed tier enumeration.
	NumTiers = 4
)

var tierNames = [NumTiers]string{"base", "mid_low", "mid_high", "top"}

// Valid reports whether t is inside the enumeration.
func (t Tier) Valid() bool { return t < NumTiers }

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
	return tierNames[t]
}

// ParseTier accepts either the tier name or its index.
func ParseTier(s string) (Tier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range tierNames {
		if s == name || s == strconv.Itoa(i) {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}
