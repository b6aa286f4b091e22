package farm

import (
	"errors"
	"fmt"
	"math/big"

	"gemfarm/core/events"
	"gemfarm/crypto"
)

var (
	errKindMismatch    = errors.New("farm engine: funding parameters do not match track kind")
	errInvalidSchedule = errors.New("farm engine: invalid fixed schedule")
)

// FunderResult reports a funder-set mutation.
type FunderResult struct {
	Farm       crypto.Address `json:"farm"`
	Funder     crypto.Address `json:"funder"`
	Authorized bool           `json:"authorized"`
}

// AuthorizeFunder adds funder to the farm's authorized set. Manager only.
func (e *Engine) AuthorizeFunder(farmAddr, caller, funder crypto.Address) (*FunderResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	if !f.IsManager(caller) {
		return nil, ErrUnauthorized
	}
	f.AuthorizeFunder(funder)
	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("authorize funder: %w", err)
	}
	return &FunderResult{Farm: farmAddr, Funder: funder, Authorized: true}, nil
}

// DeauthorizeFunder removes funder from the farm's authorized set. Manager only.
func (e *Engine) DeauthorizeFunder(farmAddr, caller, funder crypto.Address) (*FunderResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	if !f.IsManager(caller) {
		return nil, ErrUnauthorized
	}
	f.DeauthorizeFunder(funder)
	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("deauthorize funder: %w", err)
	}
	return &FunderResult{Farm: farmAddr, Funder: funder, Authorized: false}, nil
}

// VariableFunding tops up a variable-rate track for a fresh duration.
type VariableFunding struct {
	Amount      *big.Int `json:"amount"`
	DurationSec uint64   `json:"durationSec"`
}

// FixedFunding funds a fixed-rate schedule in one shot. Amount must equal
// GemsFunded times the schedule's per-gem total.
type FixedFunding struct {
	Schedule   []FixedPeriod `json:"schedule"`
	GemsFunded uint64        `json:"gemsFunded"`
	Amount     *big.Int      `json:"amount"`
}

// FundRewardParams selects the slot to fund and carries exactly one of the
// two funding payloads, matching the track's kind.
type FundRewardParams struct {
	Slot     RewardSlot       `json:"slot"`
	Variable *VariableFunding `json:"variable,omitempty"`
	Fixed    *FixedFunding    `json:"fixed,omitempty"`
}

// FundRewardResult reports the track window after funding.
type FundRewardResult struct {
	Farm        crypto.Address `json:"farm"`
	Slot        string         `json:"slot"`
	RewardEndTs uint64         `json:"rewardEndTs"`
}

// FundReward deposits reward funding into a track's pot. The caller must be
// an authorized funder; membership is checked, not manager identity.
func (e *Engine) FundReward(farmAddr, caller crypto.Address, params FundRewardParams) (*FundRewardResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	if !f.IsAuthorizedFunder(caller) {
		return nil, ErrUnauthorized
	}
	track := f.Track(params.Slot)
	now := e.now()
	if track.Locked(now) {
		return nil, ErrRewardLocked
	}
	refreshTrack(f, track, now)

	var amount *big.Int
	switch {
	case track.Kind == RewardKindVariable && params.Variable != nil:
		amount, err = e.fundVariable(track, params.Variable, now)
	case track.Kind == RewardKindFixed && params.Fixed != nil:
		amount, err = e.fundFixed(track, params.Fixed, now)
	default:
		return nil, errKindMismatch
	}
	if err != nil {
		return nil, err
	}

	if err := e.state.Transfer(track.Token, caller, track.Pot, amount); err != nil {
		return nil, fmt.Errorf("fund reward: %w", err)
	}
	track.Funds.TotalFunded.Add(track.Funds.TotalFunded, amount)
	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("fund reward: %w", err)
	}
	e.emit(events.RewardFunded{
		Farm:   farmAddr,
		Funder: caller,
		Slot:   params.Slot.String(),
		Amount: amount,
		EndTs:  track.Times.RewardEndTs,
	})
	return &FundRewardResult{Farm: farmAddr, Slot: params.Slot.String(), RewardEndTs: track.Times.RewardEndTs}, nil
}

func (e *Engine) fundVariable(track *RewardTrack, funding *VariableFunding, now uint64) (*big.Int, error) {
	if funding.Amount == nil || funding.Amount.Sign() <= 0 || funding.DurationSec == 0 {
		return nil, errInvalidAmount
	}
	amount := cloneBigInt(funding.Amount)
	// The unaccrued remainder of any previous funding rolls into the new
	// window at the recomputed rate.
	remaining := new(big.Int).Add(track.Funds.Available(), amount)
	track.Times.DurationSec = funding.DurationSec
	track.Times.RewardEndTs = now + funding.DurationSec
	track.Variable.RewardRate = new(big.Int).Quo(remaining, new(big.Int).SetUint64(funding.DurationSec))
	track.Variable.RewardLastUpdatedTs = now
	return amount, nil
}

func (e *Engine) fundFixed(track *RewardTrack, funding *FixedFunding, now uint64) (*big.Int, error) {
	if track.Fixed.Funded() {
		// Fixed schedules are funded exactly once, at track creation time.
		return nil, ErrRewardLocked
	}
	if len(funding.Schedule) == 0 || len(funding.Schedule) > maxFixedPeriods || funding.GemsFunded == 0 {
		return nil, errInvalidSchedule
	}
	schedule := make([]FixedPeriod, 0, len(funding.Schedule))
	perGem := big.NewInt(0)
	var duration uint64
	for _, period := range funding.Schedule {
		if period.DurationSec == 0 || period.Rate == nil || period.Rate.Sign() < 0 {
			return nil, errInvalidSchedule
		}
		schedule = append(schedule, FixedPeriod{
			Rate:        cloneBigInt(period.Rate),
			DurationSec: period.DurationSec,
		})
		leg := new(big.Int).Mul(period.Rate, new(big.Int).SetUint64(period.DurationSec))
		perGem.Add(perGem, leg)
		duration += period.DurationSec
	}
	expected := new(big.Int).Mul(perGem, new(big.Int).SetUint64(funding.GemsFunded))
	amount := cloneBigInt(funding.Amount)
	if amount.Cmp(expected) != 0 {
		return nil, ErrFundingMismatch
	}

	track.Fixed.Schedule = schedule
	track.Fixed.ScheduleStartTs = now
	track.Fixed.LastUpdatedTs = now
	track.Fixed.GemsFunded = funding.GemsFunded
	track.Times.DurationSec = duration
	track.Times.RewardEndTs = now + duration
	return amount, nil
}

// CancelRewardResult reports the refund issued by a cancel.
type CancelRewardResult struct {
	Farm   crypto.Address `json:"farm"`
	Slot   string         `json:"slot"`
	Refund *big.Int       `json:"refund"`
}

// CancelReward refunds a track's unaccrued, unreserved funding to the caller
// and truncates the reward window to now. Rejected while the track is locked.
func (e *Engine) CancelReward(farmAddr, caller crypto.Address, slot RewardSlot) (*CancelRewardResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	if !f.IsAuthorizedFunder(caller) {
		return nil, ErrUnauthorized
	}
	track := f.Track(slot)
	now := e.now()
	if track.Locked(now) {
		return nil, ErrRewardLocked
	}
	refreshTrack(f, track, now)

	refund := track.Funds.Available()
	if track.Kind == RewardKindFixed && track.Fixed != nil {
		// Funds reserved for enrolled gems stay in the pot: lazily refreshed
		// farmers must still find their promised payout there.
		refund.Sub(refund, track.Fixed.Reserved)
	}
	if refund.Sign() < 0 {
		refund = big.NewInt(0)
	}
	if refund.Sign() > 0 {
		if err := e.state.Transfer(track.Token, track.Pot, caller, refund); err != nil {
			return nil, fmt.Errorf("cancel reward: %w", err)
		}
		track.Funds.TotalRefunded.Add(track.Funds.TotalRefunded, refund)
	}
	if now < track.Times.RewardEndTs {
		track.Times.RewardEndTs = now
	}
	if track.Kind == RewardKindVariable && track.Variable != nil {
		track.Variable.RewardRate = big.NewInt(0)
		track.Variable.RewardLastUpdatedTs = minTs(now, track.Times.RewardEndTs)
	}
	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("cancel reward: %w", err)
	}
	e.emit(events.RewardCancelled{Farm: farmAddr, Funder: caller, Slot: slot.String(), Refund: refund})
	return &CancelRewardResult{Farm: farmAddr, Slot: slot.String(), Refund: refund}, nil
}

// LockRewardResult reports the lock window applied to a track.
type LockRewardResult struct {
	Farm      crypto.Address `json:"farm"`
	Slot      string         `json:"slot"`
	LockEndTs uint64         `json:"lockEndTs"`
}

// LockReward makes a track's funding irrevocable until the reward window
// ends. The transition is one-way: once locked, cancel and further funding
// fail with ErrRewardLocked.
func (e *Engine) LockReward(farmAddr, caller crypto.Address, slot RewardSlot) (*LockRewardResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	if !f.IsAuthorizedFunder(caller) {
		return nil, ErrUnauthorized
	}
	track := f.Track(slot)
	if track.Times.RewardEndTs > track.Times.LockEndTs {
		track.Times.LockEndTs = track.Times.RewardEndTs
	}
	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("lock reward: %w", err)
	}
	e.emit(events.RewardLockedEvent{Farm: farmAddr, Slot: slot.String(), LockEndTs: track.Times.LockEndTs})
	return &LockRewardResult{Farm: farmAddr, Slot: slot.String(), LockEndTs: track.Times.LockEndTs}, nil
}
