package events

import (
	"math/big"
	"strconv"

	"gemfarm/core/types"
	"gemfarm/crypto"
)

const (
	// TypeFarmInitialized is emitted when a manager creates a farm.
	TypeFarmInitialized = "farm.initialized"
	// TypeGemsStaked captures a stake or flash-deposit moving gems into the locked count.
	TypeGemsStaked = "farm.staked"
	// TypeGemsUnstaked captures the first unstake step, including the fee charged.
	TypeGemsUnstaked = "farm.unstaked"
	// TypeVaultUnlocked is emitted when the cooldown elapses and the vault unlocks.
	TypeVaultUnlocked = "farm.vaultUnlocked"
	// TypeRewardsClaimed is emitted when accrued rewards are paid out to a farmer.
	TypeRewardsClaimed = "farm.rewardsClaimed"
	// TypeRewardFunded captures a funding deposit into a reward track.
	TypeRewardFunded = "farm.rewardFunded"
	// TypeRewardCancelled captures a funding refund out of a reward track.
	TypeRewardCancelled = "farm.rewardCancelled"
	// TypeRewardLocked is emitted when a track's funding becomes irrevocable.
	TypeRewardLocked = "farm.rewardLocked"
	// TypeTreasuryPayout is emitted when the manager withdraws collected fees.
	TypeTreasuryPayout = "farm.treasuryPayout"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// FarmInitialized announces a freshly created farm and its derived accounts.
type FarmInitialized struct {
	Farm     crypto.Address
	Manager  crypto.Address
	Treasury crypto.Address
}

// EventType satisfies the Event interface.
func (FarmInitialized) EventType() string { return TypeFarmInitialized }

// Event converts the structured payload into a broadcastable event.
func (e FarmInitialized) Event() *types.Event {
	return &types.Event{Type: TypeFarmInitialized, Attributes: map[string]string{
		"farm":     e.Farm.String(),
		"manager":  e.Manager.String(),
		"treasury": e.Treasury.String(),
	}}
}

// VaultUnlocked marks the second unstake step releasing a vault.
type VaultUnlocked struct {
	Farm   crypto.Address
	Farmer crypto.Address
	Vault  crypto.Address
}

// EventType satisfies the Event interface.
func (VaultUnlocked) EventType() string { return TypeVaultUnlocked }

// Event converts the structured payload into a broadcastable event.
func (e VaultUnlocked) Event() *types.Event {
	return &types.Event{Type: TypeVaultUnlocked, Attributes: map[string]string{
		"farm":   e.Farm.String(),
		"farmer": e.Farmer.String(),
		"vault":  e.Vault.String(),
	}}
}

// GemsStaked captures the gem delta realised when staking into a vault.
type GemsStaked struct {
	Farm   crypto.Address
	Farmer crypto.Address
	Vault  crypto.Address
	Gems   uint64
	Total  uint64
	Flash  bool
}

// EventType satisfies the Event interface.
func (GemsStaked) EventType() string { return TypeGemsStaked }

// Event converts the structured payload into a broadcastable event.
func (e GemsStaked) Event() *types.Event {
	return &types.Event{Type: TypeGemsStaked, Attributes: map[string]string{
		"farm":   e.Farm.String(),
		"farmer": e.Farmer.String(),
		"vault":  e.Vault.String(),
		"gems":   strconv.FormatUint(e.Gems, 10),
		"total":  strconv.FormatUint(e.Total, 10),
		"flash":  strconv.FormatBool(e.Flash),
	}}
}

// GemsUnstaked captures the first unstake step and the fee routed to the treasury.
type GemsUnstaked struct {
	Farm       crypto.Address
	Farmer     crypto.Address
	Gems       uint64
	Fee        *big.Int
	CooldownTs uint64
}

func (GemsUnstaked) EventType() string { return TypeGemsUnstaked }

func (e GemsUnstaked) Event() *types.Event {
	return &types.Event{Type: TypeGemsUnstaked, Attributes: map[string]string{
		"farm":       e.Farm.String(),
		"farmer":     e.Farmer.String(),
		"gems":       strconv.FormatUint(e.Gems, 10),
		"fee":        formatAmount(e.Fee),
		"cooldownTs": strconv.FormatUint(e.CooldownTs, 10),
	}}
}

// RewardsClaimed records the per-track payouts transferred by a claim.
type RewardsClaimed struct {
	Farm    crypto.Address
	Farmer  crypto.Address
	PaidA   *big.Int
	PaidB   *big.Int
}

func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

func (e RewardsClaimed) Event() *types.Event {
	return &types.Event{Type: TypeRewardsClaimed, Attributes: map[string]string{
		"farm":   e.Farm.String(),
		"farmer": e.Farmer.String(),
		"paidA":  formatAmount(e.PaidA),
		"paidB":  formatAmount(e.PaidB),
	}}
}

// RewardFunded records a funder deposit into a reward track pot.
type RewardFunded struct {
	Farm   crypto.Address
	Funder crypto.Address
	Slot   string
	Amount *big.Int
	EndTs  uint64
}

func (RewardFunded) EventType() string { return TypeRewardFunded }

func (e RewardFunded) Event() *types.Event {
	return &types.Event{Type: TypeRewardFunded, Attributes: map[string]string{
		"farm":   e.Farm.String(),
		"funder": e.Funder.String(),
		"slot":   e.Slot,
		"amount": formatAmount(e.Amount),
		"endTs":  strconv.FormatUint(e.EndTs, 10),
	}}
}

// RewardCancelled records the refund issued when a track's funding is cancelled.
type RewardCancelled struct {
	Farm   crypto.Address
	Funder crypto.Address
	Slot   string
	Refund *big.Int
}

func (RewardCancelled) EventType() string { return TypeRewardCancelled }

func (e RewardCancelled) Event() *types.Event {
	return &types.Event{Type: TypeRewardCancelled, Attributes: map[string]string{
		"farm":   e.Farm.String(),
		"funder": e.Funder.String(),
		"slot":   e.Slot,
		"refund": formatAmount(e.Refund),
	}}
}

// RewardLockedEvent records the one-way lock of a track's funding.
type RewardLockedEvent struct {
	Farm      crypto.Address
	Slot      string
	LockEndTs uint64
}

func (RewardLockedEvent) EventType() string { return TypeRewardLocked }

func (e RewardLockedEvent) Event() *types.Event {
	return &types.Event{Type: TypeRewardLocked, Attributes: map[string]string{
		"farm":      e.Farm.String(),
		"slot":      e.Slot,
		"lockEndTs": strconv.FormatUint(e.LockEndTs, 10),
	}}
}

// TreasuryPayout records a manager withdrawal of collected unstaking fees.
type TreasuryPayout struct {
	Farm        crypto.Address
	Destination crypto.Address
	Amount      *big.Int
}

func (TreasuryPayout) EventType() string { return TypeTreasuryPayout }

func (e TreasuryPayout) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryPayout, Attributes: map[string]string{
		"farm":        e.Farm.String(),
		"destination": e.Destination.String(),
		"amount":      formatAmount(e.Amount),
	}}
}
