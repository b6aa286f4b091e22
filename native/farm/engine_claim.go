package farm

import (
	"fmt"
	"math/big"

	"gemfarm/core/events"
	"gemfarm/crypto"
)

// ClaimResult reports the per-track payouts a claim transferred.
type ClaimResult struct {
	Farm   crypto.Address `json:"farm"`
	Farmer crypto.Address `json:"farmer"`
	PaidA  *big.Int       `json:"paidA"`
	PaidB  *big.Int       `json:"paidB"`
}

// Claim refreshes both tracks and both farmer snapshots, then pays out the
// accrued-but-unpaid reward of each track from its pot. Claiming twice with
// no intervening time or stake change transfers zero the second time.
func (e *Engine) Claim(farmAddr, owner crypto.Address) (*ClaimResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	farmer, err := e.loadFarmer(farmAddr, owner)
	if err != nil {
		return nil, err
	}
	now := e.now()
	refreshAll(f, farmer, now)

	paid := [rewardSlotCount]*big.Int{}
	for slot := RewardSlot(0); slot < rewardSlotCount; slot++ {
		track := f.Track(slot)
		state := farmer.Reward(slot)
		owed := state.Owed()
		paid[slot] = owed
		if owed.Sign() == 0 {
			continue
		}
		potBalance, err := e.state.BalanceOf(track.Token, track.Pot)
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}
		if potBalance.Cmp(owed) < 0 {
			return nil, ErrInsufficientPotBalance
		}
	}
	for slot := RewardSlot(0); slot < rewardSlotCount; slot++ {
		if paid[slot].Sign() == 0 {
			continue
		}
		track := f.Track(slot)
		state := farmer.Reward(slot)
		if err := e.state.Transfer(track.Token, track.Pot, owner, paid[slot]); err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}
		state.PaidOutReward = cloneBigInt(state.AccruedReward)
	}

	if err := e.commit(f, farmer, nil); err != nil {
		return nil, err
	}
	e.emit(events.RewardsClaimed{
		Farm:   farmAddr,
		Farmer: owner,
		PaidA:  paid[RewardSlotA],
		PaidB:  paid[RewardSlotB],
	})
	return &ClaimResult{Farm: farmAddr, Farmer: owner, PaidA: paid[RewardSlotA], PaidB: paid[RewardSlotB]}, nil
}

// TreasuryResult reports a treasury payout.
type TreasuryResult struct {
	Farm        crypto.Address `json:"farm"`
	Destination crypto.Address `json:"destination"`
	Amount      *big.Int       `json:"amount"`
}

// PayoutFromTreasury transfers collected unstaking fees to a destination
// account. Manager only.
func (e *Engine) PayoutFromTreasury(farmAddr, caller, destination crypto.Address, amount *big.Int) (*TreasuryResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	if !f.IsManager(caller) {
		return nil, ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	balance, err := e.state.BalanceOf(f.FeeToken, f.Treasury)
	if err != nil {
		return nil, fmt.Errorf("treasury payout: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientPotBalance
	}
	if err := e.state.Transfer(f.FeeToken, f.Treasury, destination, amount); err != nil {
		return nil, fmt.Errorf("treasury payout: %w", err)
	}
	e.emit(events.TreasuryPayout{Farm: farmAddr, Destination: destination, Amount: cloneBigInt(amount)})
	return &TreasuryResult{Farm: farmAddr, Destination: destination, Amount: cloneBigInt(amount)}, nil
}
