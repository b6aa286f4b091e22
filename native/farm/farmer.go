package farm

import (
	"math/big"

	"gemfarm/crypto"
)

// VaultState names the stages of the vault staking lifecycle.
type VaultState uint8

const (
	// VaultUnstaked: unlocked, no gems staked. Deposits and withdrawals are free.
	VaultUnstaked VaultState = iota
	// VaultStaked: locked with a positive staked gem count.
	VaultStaked
	// VaultCooldown: still locked after unstaking, waiting out the cooldown.
	VaultCooldown
)

// Vault is the per-farmer gem container. It is addressed independently of the
// farmer record so deposits and withdrawals can reference it directly.
type Vault struct {
	Address crypto.Address `json:"address"`
	Farm    crypto.Address `json:"farm"`
	Owner   crypto.Address `json:"owner"`
	// GemCount is the number of gems held in the vault, staked or idle.
	GemCount uint64 `json:"gemCount"`
	Locked   bool   `json:"locked"`
}

// Clone creates a copy of the vault record.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// FarmerRewardState is a farmer's snapshot against one reward track.
type FarmerRewardState struct {
	// PaidOutReward is what has actually been transferred to the farmer. It
	// never exceeds AccruedReward; they are equal immediately after a claim.
	PaidOutReward *big.Int `json:"paidOutReward"`
	// AccruedReward is what the farmer is computationally owed.
	AccruedReward *big.Int `json:"accruedReward"`
	// LastRecordedAccruedRewardPerGem mirrors the track's per-gem accumulator
	// at the farmer's last refresh. For variable tracks it is in scaled units,
	// for fixed tracks in plain reward units per gem.
	LastRecordedAccruedRewardPerGem *big.Int `json:"lastRecordedAccruedRewardPerGem"`
	// RewardWhole marks a farmer certified to receive the full fixed schedule.
	RewardWhole bool `json:"rewardWhole"`
	// GemsWhole counts this farmer's gems included in the track's
	// GemsParticipating total.
	GemsWhole uint64 `json:"gemsWhole"`
	// ReservedReward is the fixed-schedule payout still owed to this farmer's
	// enrolled gems; it drains into AccruedReward as time passes.
	ReservedReward *big.Int `json:"reservedReward"`
}

// Owed returns the accrued reward not yet paid out.
func (s *FarmerRewardState) Owed() *big.Int {
	return new(big.Int).Sub(s.AccruedReward, s.PaidOutReward)
}

// Farmer is the per-identity staking record, keyed by (farm, owner).
type Farmer struct {
	Farm  crypto.Address `json:"farm"`
	Owner crypto.Address `json:"owner"`
	Vault crypto.Address `json:"vault"`

	GemsStaked uint64 `json:"gemsStaked"`
	// BeginStakingTs records the 0 -> nonzero staking transition and gates
	// full-schedule certification on fixed tracks.
	BeginStakingTs uint64 `json:"beginStakingTs"`
	// CooldownEndsTs is set by the first unstake step; the vault unlocks only
	// once it has elapsed.
	CooldownEndsTs uint64 `json:"cooldownEndsTs"`

	Rewards [rewardSlotCount]FarmerRewardState `json:"rewards"`
}

// Reward returns the farmer's snapshot for the given slot.
func (f *Farmer) Reward(slot RewardSlot) *FarmerRewardState {
	return &f.Rewards[slot]
}

// Clone creates a deep copy of the farmer record.
func (f *Farmer) Clone() *Farmer {
	if f == nil {
		return nil
	}
	clone := &Farmer{
		Farm:           f.Farm,
		Owner:          f.Owner,
		Vault:          f.Vault,
		GemsStaked:     f.GemsStaked,
		BeginStakingTs: f.BeginStakingTs,
		CooldownEndsTs: f.CooldownEndsTs,
	}
	for i := range f.Rewards {
		clone.Rewards[i] = FarmerRewardState{
			PaidOutReward:                   cloneBigInt(f.Rewards[i].PaidOutReward),
			AccruedReward:                   cloneBigInt(f.Rewards[i].AccruedReward),
			LastRecordedAccruedRewardPerGem: cloneBigInt(f.Rewards[i].LastRecordedAccruedRewardPerGem),
			RewardWhole:                     f.Rewards[i].RewardWhole,
			GemsWhole:                       f.Rewards[i].GemsWhole,
			ReservedReward:                  cloneBigInt(f.Rewards[i].ReservedReward),
		}
	}
	return clone
}

// State derives the vault lifecycle stage from the farmer and vault records.
func (f *Farmer) State(vault *Vault) VaultState {
	switch {
	case vault != nil && vault.Locked && f.GemsStaked > 0:
		return VaultStaked
	case vault != nil && vault.Locked:
		return VaultCooldown
	default:
		return VaultUnstaked
	}
}
