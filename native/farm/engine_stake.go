package farm

import (
	"fmt"
	"math/big"

	"gemfarm/core/events"
	"gemfarm/crypto"
)

// DepositResult reports the vault state after a deposit or withdrawal.
type DepositResult struct {
	Vault    crypto.Address `json:"vault"`
	GemCount uint64         `json:"gemCount"`
}

// DepositGem moves gems from the caller's wallet into their unlocked vault.
// It never touches reward accrual.
func (e *Engine) DepositGem(caller, vaultAddr crypto.Address, gems uint64) (*DepositResult, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if gems == 0 {
		return nil, errInvalidAmount
	}
	vault, err := e.loadVault(vaultAddr)
	if err != nil {
		return nil, err
	}
	if string(vault.Owner.Bytes()) != string(caller.Bytes()) {
		return nil, ErrUnauthorized
	}
	if vault.Locked {
		return nil, ErrVaultLocked
	}
	f, err := e.loadFarm(vault.Farm)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).SetUint64(gems)
	if err := e.state.Transfer(f.GemToken, caller, vaultAddr, amount); err != nil {
		return nil, fmt.Errorf("deposit gems: %w", err)
	}
	vault.GemCount += gems
	if err := e.state.PutVault(vault); err != nil {
		return nil, fmt.Errorf("deposit gems: %w", err)
	}
	return &DepositResult{Vault: vaultAddr, GemCount: vault.GemCount}, nil
}

// WithdrawGem moves gems out of the caller's unlocked vault back to their
// wallet.
func (e *Engine) WithdrawGem(caller, vaultAddr crypto.Address, gems uint64) (*DepositResult, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if gems == 0 {
		return nil, errInvalidAmount
	}
	vault, err := e.loadVault(vaultAddr)
	if err != nil {
		return nil, err
	}
	if string(vault.Owner.Bytes()) != string(caller.Bytes()) {
		return nil, ErrUnauthorized
	}
	if vault.Locked {
		return nil, ErrVaultLocked
	}
	if vault.GemCount < gems {
		return nil, ErrInsufficientGems
	}
	f, err := e.loadFarm(vault.Farm)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).SetUint64(gems)
	if err := e.state.Transfer(f.GemToken, vaultAddr, caller, amount); err != nil {
		return nil, fmt.Errorf("withdraw gems: %w", err)
	}
	vault.GemCount -= gems
	if err := e.state.PutVault(vault); err != nil {
		return nil, fmt.Errorf("withdraw gems: %w", err)
	}
	return &DepositResult{Vault: vaultAddr, GemCount: vault.GemCount}, nil
}

// StakeResult reports the records a stake touched.
type StakeResult struct {
	Farm       crypto.Address `json:"farm"`
	Farmer     crypto.Address `json:"farmer"`
	Vault      crypto.Address `json:"vault"`
	GemsStaked uint64         `json:"gemsStaked"`
}

// applyStake moves gems into the staked count, maintaining the farm totals
// and fixed-track reservations. Tracks and the farmer snapshot must already
// be refreshed to now.
func applyStake(f *Farm, farmer *Farmer, gems uint64, now uint64) error {
	// Fixed tracks promise a per-gem schedule regardless of total staked gems,
	// so the payout for new gems has to fit the unreserved funding first.
	for slot := RewardSlot(0); slot < rewardSlotCount; slot++ {
		track := f.Track(slot)
		if track.Kind != RewardKindFixed || track.Fixed == nil || !track.Fixed.Funded() {
			continue
		}
		if now >= track.Times.RewardEndTs {
			continue
		}
		remaining := new(big.Int).Sub(track.Fixed.RewardPerGem(), fixedRewardPerGemAt(track, now))
		need := remaining.Mul(remaining, new(big.Int).SetUint64(gems))
		headroom := new(big.Int).Sub(track.Funds.Available(), track.Fixed.Reserved)
		if need.Cmp(headroom) > 0 {
			return ErrInsufficientPotBalance
		}
	}

	was := farmer.GemsStaked
	farmer.GemsStaked += gems
	f.GemsStaked += gems
	if was == 0 {
		farmer.BeginStakingTs = now
		f.StakedFarmerCount++
	}

	for slot := RewardSlot(0); slot < rewardSlotCount; slot++ {
		track := f.Track(slot)
		if track.Kind != RewardKindFixed || track.Fixed == nil || !track.Fixed.Funded() {
			continue
		}
		if now >= track.Times.RewardEndTs {
			continue
		}
		state := farmer.Reward(slot)
		before := state.GemsWhole
		certifyFixed(track, farmer, slot, now)
		wholeAdded := state.GemsWhole - before
		if wholeAdded >= gems {
			continue
		}
		// The remaining new gems joined after the cutoff: reserve only the
		// unelapsed share of the schedule for them.
		late := gems - wholeAdded
		remaining := new(big.Int).Sub(track.Fixed.RewardPerGem(), fixedRewardPerGemAt(track, now))
		need := remaining.Mul(remaining, new(big.Int).SetUint64(late))
		state.ReservedReward.Add(state.ReservedReward, need)
		track.Fixed.Reserved.Add(track.Fixed.Reserved, need)
	}
	return nil
}

// Stake locks gems already deposited in the caller's vault. Staking is
// additive; the vault locks on the first stake and stays locked until the
// two-step unstake completes.
func (e *Engine) Stake(farmAddr, owner crypto.Address, gems uint64) (*StakeResult, error) {
	if gems == 0 {
		return nil, errInvalidAmount
	}
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	farmer, err := e.loadFarmer(farmAddr, owner)
	if err != nil {
		return nil, err
	}
	vault, err := e.loadVault(farmer.Vault)
	if err != nil {
		return nil, err
	}
	now := e.now()
	refreshAll(f, farmer, now)

	if farmer.State(vault) == VaultCooldown {
		return nil, ErrVaultLocked
	}
	if vault.GemCount-farmer.GemsStaked < gems {
		return nil, ErrInsufficientGems
	}
	if err := applyStake(f, farmer, gems, now); err != nil {
		return nil, err
	}
	vault.Locked = true

	if err := e.commit(f, farmer, vault); err != nil {
		return nil, err
	}
	e.emit(events.GemsStaked{
		Farm:   farmAddr,
		Farmer: owner,
		Vault:  vault.Address,
		Gems:   gems,
		Total:  farmer.GemsStaked,
	})
	return &StakeResult{Farm: farmAddr, Farmer: owner, Vault: vault.Address, GemsStaked: farmer.GemsStaked}, nil
}

// FlashDeposit atomically deposits gems into the vault and stakes them in a
// single operation, with invariants identical to deposit followed by stake.
func (e *Engine) FlashDeposit(farmAddr, owner crypto.Address, gems uint64) (*StakeResult, error) {
	if gems == 0 {
		return nil, errInvalidAmount
	}
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	farmer, err := e.loadFarmer(farmAddr, owner)
	if err != nil {
		return nil, err
	}
	vault, err := e.loadVault(farmer.Vault)
	if err != nil {
		return nil, err
	}
	now := e.now()
	refreshAll(f, farmer, now)

	if farmer.State(vault) == VaultCooldown {
		return nil, ErrVaultLocked
	}
	if err := applyStake(f, farmer, gems, now); err != nil {
		return nil, err
	}
	amount := new(big.Int).SetUint64(gems)
	if err := e.state.Transfer(f.GemToken, owner, vault.Address, amount); err != nil {
		return nil, fmt.Errorf("flash deposit: %w", err)
	}
	vault.GemCount += gems
	vault.Locked = true

	if err := e.commit(f, farmer, vault); err != nil {
		return nil, err
	}
	e.emit(events.GemsStaked{
		Farm:   farmAddr,
		Farmer: owner,
		Vault:  vault.Address,
		Gems:   gems,
		Total:  farmer.GemsStaked,
		Flash:  true,
	})
	return &StakeResult{Farm: farmAddr, Farmer: owner, Vault: vault.Address, GemsStaked: farmer.GemsStaked}, nil
}

// UnstakeResult reports the outcome of either unstake step.
type UnstakeResult struct {
	Farm           crypto.Address `json:"farm"`
	Farmer         crypto.Address `json:"farmer"`
	Vault          crypto.Address `json:"vault"`
	GemsUnstaked   uint64         `json:"gemsUnstaked"`
	Fee            *big.Int       `json:"fee"`
	CooldownEndsTs uint64         `json:"cooldownEndsTs"`
	Unlocked       bool           `json:"unlocked"`
}

// Unstake runs the two-step unstake state machine. The first call zeroes the
// staked count, charges the unstaking fee into the treasury and starts the
// cooldown; the second call, after the cooldown elapsed, unlocks the vault.
func (e *Engine) Unstake(farmAddr, owner crypto.Address) (*UnstakeResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	farmer, err := e.loadFarmer(farmAddr, owner)
	if err != nil {
		return nil, err
	}
	vault, err := e.loadVault(farmer.Vault)
	if err != nil {
		return nil, err
	}
	now := e.now()
	refreshAll(f, farmer, now)

	switch farmer.State(vault) {
	case VaultStaked:
		gems := farmer.GemsStaked
		f.GemsStaked -= gems
		f.StakedFarmerCount--
		for slot := RewardSlot(0); slot < rewardSlotCount; slot++ {
			track := f.Track(slot)
			if track.Kind != RewardKindFixed || track.Fixed == nil {
				continue
			}
			state := farmer.Reward(slot)
			track.Fixed.GemsParticipating -= state.GemsWhole
			track.Fixed.Reserved.Sub(track.Fixed.Reserved, state.ReservedReward)
			state.GemsWhole = 0
			state.RewardWhole = false
			state.ReservedReward = big.NewInt(0)
		}
		farmer.GemsStaked = 0
		farmer.BeginStakingTs = 0
		farmer.CooldownEndsTs = now + f.CooldownPeriodSec

		fee := cloneBigInt(f.UnstakingFee)
		if fee.Sign() > 0 {
			if err := e.state.Transfer(f.FeeToken, owner, f.Treasury, fee); err != nil {
				return nil, fmt.Errorf("unstake fee: %w", err)
			}
		}
		if err := e.commit(f, farmer, vault); err != nil {
			return nil, err
		}
		e.emit(events.GemsUnstaked{
			Farm:       farmAddr,
			Farmer:     owner,
			Gems:       gems,
			Fee:        fee,
			CooldownTs: farmer.CooldownEndsTs,
		})
		return &UnstakeResult{
			Farm:           farmAddr,
			Farmer:         owner,
			Vault:          vault.Address,
			GemsUnstaked:   gems,
			Fee:            fee,
			CooldownEndsTs: farmer.CooldownEndsTs,
		}, nil

	case VaultCooldown:
		if now < farmer.CooldownEndsTs {
			return nil, ErrWindowExpired
		}
		vault.Locked = false
		farmer.CooldownEndsTs = 0
		if err := e.commit(f, farmer, vault); err != nil {
			return nil, err
		}
		e.emit(events.VaultUnlocked{Farm: farmAddr, Farmer: owner, Vault: vault.Address})
		return &UnstakeResult{
			Farm:     farmAddr,
			Farmer:   owner,
			Vault:    vault.Address,
			Fee:      big.NewInt(0),
			Unlocked: true,
		}, nil

	default:
		return nil, ErrNothingStaked
	}
}

// RefreshResult reports the records a refresh touched.
type RefreshResult struct {
	Farm   crypto.Address `json:"farm"`
	Farmer crypto.Address `json:"farmer"`
}

// RefreshFarmer brings both tracks and the farmer's snapshots current without
// applying any other transition. Anyone may refresh any farmer.
func (e *Engine) RefreshFarmer(farmAddr, owner crypto.Address) (*RefreshResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	farmer, err := e.loadFarmer(farmAddr, owner)
	if err != nil {
		return nil, err
	}
	refreshAll(f, farmer, e.now())
	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("refresh farmer: %w", err)
	}
	if err := e.state.PutFarmer(farmer); err != nil {
		return nil, fmt.Errorf("refresh farmer: %w", err)
	}
	return &RefreshResult{Farm: farmAddr, Farmer: owner}, nil
}

func (e *Engine) commit(f *Farm, farmer *Farmer, vault *Vault) error {
	if err := e.state.PutFarm(f); err != nil {
		return fmt.Errorf("commit farm: %w", err)
	}
	if farmer != nil {
		if err := e.state.PutFarmer(farmer); err != nil {
			return fmt.Errorf("commit farmer: %w", err)
		}
	}
	if vault != nil {
		if err := e.state.PutVault(vault); err != nil {
			return fmt.Errorf("commit vault: %w", err)
		}
	}
	return nil
}
