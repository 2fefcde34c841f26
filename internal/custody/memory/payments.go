package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

type holding struct {
	token   common.Address
	account common.Address
}

type grant struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Payments is a multi-token balance sheet. Transfers out of any account
// other than the venue spend the allowance that account granted the venue.
type Payments struct {
	venue common.Address

	mu         sync.Mutex
	balances   map[holding]*uint256.Int
	allowances map[grant]*uint256.Int
}

// NewPayments creates an empty balance sheet operated by venue.
func NewPayments(venue common.Address) *Payments {
	return &Payments{
		venue:      venue,
		balances:   make(map[holding]*uint256.Int),
		allowances: make(map[grant]*uint256.Int),
	}
}

// Mint credits amount of token to account.
func (p *Payments) Mint(token, account common.Address, amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.balance(token, account)
	b.Add(b, amount)
}

// Approve sets the allowance owner grants spender for token.
func (p *Payments) Approve(token, owner, spender common.Address, amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowances[grant{token, owner, spender}] = new(uint256.Int).Set(amount)
}

// Allowance returns what owner still lets spender move.
func (p *Payments) Allowance(token, owner, spender common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a := p.allowances[grant{token, owner, spender}]; a != nil {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

func (p *Payments) balance(token, account common.Address) *uint256.Int {
	k := holding{token, account}
	b := p.balances[k]
	if b == nil {
		b = new(uint256.Int)
		p.balances[k] = b
	}
	return b
}

// BalanceOf implements domain.Payments.
func (p *Payments) BalanceOf(_ context.Context, token, account common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.balance(token, account)), nil
}

// Transfer implements domain.Payments.
func (p *Payments) Transfer(_ context.Context, token, from, to common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.balance(token, from)
	if src.Lt(amount) {
		return fmt.Errorf("payments: transfer %s from %s: %w", amount.Dec(), from.Hex(), domain.ErrInsufficientBalance)
	}
	if from != p.venue {
		allowed := p.allowances[grant{token, from, p.venue}]
		if allowed == nil || allowed.Lt(amount) {
			return fmt.Errorf("payments: transfer %s from %s: %w", amount.Dec(), from.Hex(), domain.ErrInsufficientAllowance)
		}
		allowed.Sub(allowed, amount)
	}
	p.move(token, from, to, amount)
	return nil
}

// Reverse implements domain.Payments. The allowance spent by the original
// transfer is restored.
func (p *Payments) Reverse(_ context.Context, token, from, to common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balance(token, to).Lt(amount) {
		return fmt.Errorf("payments: reverse %s to %s: %w", amount.Dec(), from.Hex(), domain.ErrInsufficientBalance)
	}
	p.move(token, to, from, amount)
	if from != p.venue {
		k := grant{token, from, p.venue}
		if a := p.allowances[k]; a != nil {
			a.Add(a, amount)
		} else {
			p.allowances[k] = new(uint256.Int).Set(amount)
		}
	}
	return nil
}

func (p *Payments) move(token, from, to common.Address, amount *uint256.Int) {
	src := p.balance(token, from)
	src.Sub(src, amount)
	dst := p.balance(token, to)
	dst.Add(dst, amount)
}

var _ domain.Payments = (*Payments)(nil)
