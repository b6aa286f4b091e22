package farm

import (
	"math/big"

	"gemfarm/crypto"
)

// RewardSlot selects one of the farm's two independent reward tracks.
type RewardSlot uint8

const (
	RewardSlotA RewardSlot = iota
	RewardSlotB

	rewardSlotCount = 2
)

// String returns the canonical slot name used in events and RPC payloads.
func (s RewardSlot) String() string {
	switch s {
	case RewardSlotA:
		return "A"
	case RewardSlotB:
		return "B"
	}
	return "?"
}

// ParseRewardSlot maps a slot name back to its identifier.
func ParseRewardSlot(name string) (RewardSlot, bool) {
	switch name {
	case "A", "a":
		return RewardSlotA, true
	case "B", "b":
		return RewardSlotB, true
	}
	return 0, false
}

// RewardKind distinguishes the accrual model a track runs. It is fixed for the
// lifetime of the track.
type RewardKind uint8

const (
	RewardKindVariable RewardKind = iota
	RewardKindFixed
)

// TrackFunds groups the funding totals of a reward track. The track may never
// promise more than it received: TotalAccruedToStakers never exceeds
// TotalFunded - TotalRefunded.
type TrackFunds struct {
	TotalFunded           *big.Int `json:"totalFunded"`
	TotalRefunded         *big.Int `json:"totalRefunded"`
	TotalAccruedToStakers *big.Int `json:"totalAccruedToStakers"`
}

// Available returns the funding not yet refunded or promised to stakers.
func (f *TrackFunds) Available() *big.Int {
	avail := new(big.Int).Sub(f.TotalFunded, f.TotalRefunded)
	return avail.Sub(avail, f.TotalAccruedToStakers)
}

// TrackTimes groups the time window of a reward track.
type TrackTimes struct {
	DurationSec uint64 `json:"durationSec"`
	RewardEndTs uint64 `json:"rewardEndTs"`
	LockEndTs   uint64 `json:"lockEndTs"`
}

// VariableRateModel accrues continuously: the funded pool depletes at
// RewardRate units per second, shared across all staked gems.
type VariableRateModel struct {
	// RewardRate is the pool-wide depletion rate in reward units per second.
	RewardRate *big.Int `json:"rewardRate"`
	// RewardLastUpdatedTs is the timestamp the accumulator was last advanced to.
	RewardLastUpdatedTs uint64 `json:"rewardLastUpdatedTs"`
	// AccruedRewardPerGem is a monotonic accumulator of reward per staked gem,
	// scaled by accrualPrecision to avoid precision loss at large gem counts.
	AccruedRewardPerGem *big.Int `json:"accruedRewardPerGem"`
}

// FixedPeriod is one leg of a fixed-rate schedule, paying Rate reward units
// per gem per second for DurationSec seconds.
type FixedPeriod struct {
	Rate        *big.Int `json:"rate"`
	DurationSec uint64   `json:"durationSec"`
}

// maxFixedPeriods bounds the schedule length of a fixed-rate track.
const maxFixedPeriods = 3

// FixedRateModel pays a pre-funded, multi-period schedule per gem, regardless
// of how many gems are staked in total.
type FixedRateModel struct {
	Schedule        []FixedPeriod `json:"schedule"`
	ScheduleStartTs uint64        `json:"scheduleStartTs"`
	// GemsFunded is the upfront commitment size: the funding covers the full
	// schedule for at most this many gems.
	GemsFunded uint64 `json:"gemsFunded"`
	// GemsParticipating counts staked gems whose owner is certified to receive
	// the full schedule.
	GemsParticipating uint64 `json:"gemsParticipating"`
	// GemsMadeWhole accumulates participating-gem reward already paid across
	// period boundaries.
	GemsMadeWhole *big.Int `json:"gemsMadeWhole"`
	// Reserved is funding promised to enrolled gems but not yet accrued. A
	// cancel can only refund what is neither accrued nor reserved.
	Reserved *big.Int `json:"reserved"`
	// LastUpdatedTs is the timestamp GemsMadeWhole was last advanced to.
	LastUpdatedTs uint64 `json:"lastUpdatedTs"`
}

// RewardPerGem returns the full-schedule payout owed to a single gem.
func (m *FixedRateModel) RewardPerGem() *big.Int {
	total := big.NewInt(0)
	for _, p := range m.Schedule {
		leg := new(big.Int).Mul(p.Rate, new(big.Int).SetUint64(p.DurationSec))
		total.Add(total, leg)
	}
	return total
}

// ScheduleDuration returns the total length of the schedule in seconds.
func (m *FixedRateModel) ScheduleDuration() uint64 {
	var total uint64
	for _, p := range m.Schedule {
		total += p.DurationSec
	}
	return total
}

// Funded reports whether the schedule has been funded.
func (m *FixedRateModel) Funded() bool {
	return m != nil && len(m.Schedule) > 0
}

// RewardTrack is one of the farm's two independent reward streams. Exactly one
// of Variable/Fixed is populated, matching Kind.
type RewardTrack struct {
	Kind     RewardKind         `json:"kind"`
	Token    string             `json:"token"`
	Pot      crypto.Address     `json:"pot"`
	Funds    TrackFunds         `json:"funds"`
	Times    TrackTimes         `json:"times"`
	Variable *VariableRateModel `json:"variable,omitempty"`
	Fixed    *FixedRateModel    `json:"fixed,omitempty"`
}

// Locked reports whether the track's funding is currently irrevocable.
func (t *RewardTrack) Locked(now uint64) bool {
	return t.Times.LockEndTs != 0 && now < t.Times.LockEndTs
}

// Farm is the top-level aggregate owning reward tracks, treasury, funder set
// and global staking counters.
type Farm struct {
	Address  crypto.Address `json:"address"`
	Manager  crypto.Address `json:"manager"`
	Bank     crypto.Address `json:"bank"`
	Treasury crypto.Address `json:"treasury"`

	GemToken string `json:"gemToken"`
	FeeToken string `json:"feeToken"`

	Tracks  [rewardSlotCount]RewardTrack `json:"tracks"`
	Funders []crypto.Address             `json:"funders"`

	GemsStaked        uint64 `json:"gemsStaked"`
	StakedFarmerCount uint64 `json:"stakedFarmerCount"`

	CooldownPeriodSec uint64   `json:"cooldownPeriodSec"`
	UnstakingFee      *big.Int `json:"unstakingFee"`
}

// Track returns the reward track stored in the given slot.
func (f *Farm) Track(slot RewardSlot) *RewardTrack {
	return &f.Tracks[slot]
}

// IsManager reports whether addr is the farm manager.
func (f *Farm) IsManager(addr crypto.Address) bool {
	return string(f.Manager.Bytes()) == string(addr.Bytes())
}

// IsAuthorizedFunder reports funder-set membership. Authorization is checked
// by membership, never by equality with the manager.
func (f *Farm) IsAuthorizedFunder(addr crypto.Address) bool {
	for _, funder := range f.Funders {
		if string(funder.Bytes()) == string(addr.Bytes()) {
			return true
		}
	}
	return false
}

// AuthorizeFunder adds addr to the funder set. Adding an existing member is a
// no-op.
func (f *Farm) AuthorizeFunder(addr crypto.Address) {
	if f.IsAuthorizedFunder(addr) {
		return
	}
	f.Funders = append(f.Funders, addr)
}

// DeauthorizeFunder removes addr from the funder set and reports whether it
// was a member.
func (f *Farm) DeauthorizeFunder(addr crypto.Address) bool {
	for i, funder := range f.Funders {
		if string(funder.Bytes()) == string(addr.Bytes()) {
			f.Funders = append(f.Funders[:i], f.Funders[i+1:]...)
			return true
		}
	}
	return false
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (f TrackFunds) clone() TrackFunds {
	return TrackFunds{
		TotalFunded:           cloneBigInt(f.TotalFunded),
		TotalRefunded:         cloneBigInt(f.TotalRefunded),
		TotalAccruedToStakers: cloneBigInt(f.TotalAccruedToStakers),
	}
}

// Clone creates a deep copy so callers cannot mutate committed state.
func (t *RewardTrack) Clone() *RewardTrack {
	if t == nil {
		return nil
	}
	clone := &RewardTrack{
		Kind:  t.Kind,
		Token: t.Token,
		Pot:   t.Pot,
		Funds: t.Funds.clone(),
		Times: t.Times,
	}
	if t.Variable != nil {
		clone.Variable = &VariableRateModel{
			RewardRate:          cloneBigInt(t.Variable.RewardRate),
			RewardLastUpdatedTs: t.Variable.RewardLastUpdatedTs,
			AccruedRewardPerGem: cloneBigInt(t.Variable.AccruedRewardPerGem),
		}
	}
	if t.Fixed != nil {
		fixed := &FixedRateModel{
			ScheduleStartTs:   t.Fixed.ScheduleStartTs,
			GemsFunded:        t.Fixed.GemsFunded,
			GemsParticipating: t.Fixed.GemsParticipating,
			GemsMadeWhole:     cloneBigInt(t.Fixed.GemsMadeWhole),
			Reserved:          cloneBigInt(t.Fixed.Reserved),
			LastUpdatedTs:     t.Fixed.LastUpdatedTs,
		}
		for _, p := range t.Fixed.Schedule {
			fixed.Schedule = append(fixed.Schedule, FixedPeriod{
				Rate:        cloneBigInt(p.Rate),
				DurationSec: p.DurationSec,
			})
		}
		clone.Fixed = fixed
	}
	return clone
}

// Clone creates a deep copy of the farm record.
func (f *Farm) Clone() *Farm {
	if f == nil {
		return nil
	}
	clone := &Farm{
		Address:           f.Address,
		Manager:           f.Manager,
		Bank:              f.Bank,
		Treasury:          f.Treasury,
		GemToken:          f.GemToken,
		FeeToken:          f.FeeToken,
		GemsStaked:        f.GemsStaked,
		StakedFarmerCount: f.StakedFarmerCount,
		CooldownPeriodSec: f.CooldownPeriodSec,
		UnstakingFee:      cloneBigInt(f.UnstakingFee),
	}
	for i := range f.Tracks {
		clone.Tracks[i] = *f.Tracks[i].Clone()
	}
	clone.Funders = append([]crypto.Address(nil), f.Funders...)
	return clone
}
