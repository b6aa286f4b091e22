package farm

import "math/big"

// accrualPrecision scales the variable-rate per-gem accumulator so that
// integer division by large gem counts does not erase small per-second
// accruals.
var accrualPrecision = big.NewInt(1_000_000_000_000)

func minTs(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// refreshTrack brings a track's accumulators current as of now. It is
// idempotent and must run before any read or mutation of the track, the
// farm's staked totals or a farmer snapshot.
func refreshTrack(f *Farm, track *RewardTrack, now uint64) {
	switch track.Kind {
	case RewardKindVariable:
		refreshVariableTrack(f, track, now)
	case RewardKindFixed:
		refreshFixedTrack(track, now)
	}
}

func refreshVariableTrack(f *Farm, track *RewardTrack, now uint64) {
	model := track.Variable
	if model == nil {
		return
	}
	upper := minTs(now, track.Times.RewardEndTs)
	if upper <= model.RewardLastUpdatedTs {
		return
	}
	elapsed := upper - model.RewardLastUpdatedTs
	if f.GemsStaked > 0 && model.RewardRate.Sign() > 0 {
		newly := new(big.Int).Mul(model.RewardRate, new(big.Int).SetUint64(elapsed))
		if avail := track.Funds.Available(); newly.Cmp(avail) > 0 {
			newly = avail
		}
		if newly.Sign() > 0 {
			perGem := new(big.Int).Mul(newly, accrualPrecision)
			perGem.Quo(perGem, new(big.Int).SetUint64(f.GemsStaked))
			model.AccruedRewardPerGem.Add(model.AccruedRewardPerGem, perGem)
			track.Funds.TotalAccruedToStakers.Add(track.Funds.TotalAccruedToStakers, newly)
		}
	}
	model.RewardLastUpdatedTs = upper
}

func refreshFixedTrack(track *RewardTrack, now uint64) {
	model := track.Fixed
	if model == nil || !model.Funded() {
		return
	}
	upper := minTs(now, track.Times.RewardEndTs)
	if upper <= model.LastUpdatedTs {
		return
	}
	if model.GemsParticipating > 0 {
		perGemDelta := scheduleAccrualBetween(model, model.LastUpdatedTs, upper)
		if perGemDelta.Sign() > 0 {
			newly := perGemDelta.Mul(perGemDelta, new(big.Int).SetUint64(model.GemsParticipating))
			model.GemsMadeWhole.Add(model.GemsMadeWhole, newly)
		}
	}
	model.LastUpdatedTs = upper
}

// scheduleAccrualBetween returns the per-gem reward earned over [from, to] by
// walking the schedule's periods and summing rate * overlap for each.
func scheduleAccrualBetween(model *FixedRateModel, from, to uint64) *big.Int {
	total := big.NewInt(0)
	if to <= from {
		return total
	}
	periodStart := model.ScheduleStartTs
	for _, period := range model.Schedule {
		periodEnd := periodStart + period.DurationSec
		lo := periodStart
		if from > lo {
			lo = from
		}
		hi := periodEnd
		if to < hi {
			hi = to
		}
		if hi > lo && period.Rate.Sign() > 0 {
			leg := new(big.Int).Mul(period.Rate, new(big.Int).SetUint64(hi-lo))
			total.Add(total, leg)
		}
		periodStart = periodEnd
	}
	return total
}

// fixedRewardPerGemAt returns the cumulative per-gem accrual of the full
// schedule from its start up to now, clipped to the reward window. It is a
// pure function of recorded state and now, so refreshes replay exactly.
func fixedRewardPerGemAt(track *RewardTrack, now uint64) *big.Int {
	model := track.Fixed
	if model == nil || !model.Funded() {
		return big.NewInt(0)
	}
	upper := minTs(now, track.Times.RewardEndTs)
	return scheduleAccrualBetween(model, model.ScheduleStartTs, upper)
}

// certifyFixed enrolls an eligible farmer's gems for the full fixed schedule.
// A farmer qualifies only when their staking began at or before the schedule
// start; enrollment reserves the full per-gem payout so a later cancel cannot
// refund funds already promised. The track must already be refreshed to now.
func certifyFixed(track *RewardTrack, farmer *Farmer, slot RewardSlot, now uint64) {
	model := track.Fixed
	if model == nil || !model.Funded() || farmer.GemsStaked == 0 {
		return
	}
	state := farmer.Reward(slot)
	if state.GemsWhole != 0 {
		return
	}
	if farmer.BeginStakingTs > model.ScheduleStartTs {
		return
	}
	added := farmer.GemsStaked
	need := new(big.Int).Mul(model.RewardPerGem(), new(big.Int).SetUint64(added))
	headroom := new(big.Int).Sub(track.Funds.Available(), model.Reserved)
	if need.Cmp(headroom) > 0 {
		// Underfunded schedule: the farmer stays on the remainder share.
		return
	}
	model.GemsParticipating += added
	model.Reserved.Add(model.Reserved, need)
	// The track accrual up to now ran without these gems; backfill the elapsed
	// schedule portion so GemsMadeWhole covers every participating gem from the
	// schedule start.
	if elapsed := fixedRewardPerGemAt(track, now); elapsed.Sign() > 0 {
		backfill := elapsed.Mul(elapsed, new(big.Int).SetUint64(added))
		model.GemsMadeWhole.Add(model.GemsMadeWhole, backfill)
	}
	state.GemsWhole = farmer.GemsStaked
	state.RewardWhole = true
	state.ReservedReward.Add(state.ReservedReward, need)
}

// refreshFarmer brings one farmer snapshot current against one track. The
// track must already be refreshed. Idempotent: a second call at the same
// timestamp accrues nothing.
func refreshFarmer(track *RewardTrack, farmer *Farmer, slot RewardSlot, now uint64) {
	state := farmer.Reward(slot)
	switch track.Kind {
	case RewardKindVariable:
		model := track.Variable
		if model == nil {
			return
		}
		delta := new(big.Int).Sub(model.AccruedRewardPerGem, state.LastRecordedAccruedRewardPerGem)
		if delta.Sign() > 0 && farmer.GemsStaked > 0 {
			newly := delta.Mul(delta, new(big.Int).SetUint64(farmer.GemsStaked))
			newly.Quo(newly, accrualPrecision)
			state.AccruedReward.Add(state.AccruedReward, newly)
		}
		state.LastRecordedAccruedRewardPerGem = cloneBigInt(model.AccruedRewardPerGem)
	case RewardKindFixed:
		model := track.Fixed
		if model == nil || !model.Funded() {
			return
		}
		certifyFixed(track, farmer, slot, now)
		current := fixedRewardPerGemAt(track, now)
		delta := new(big.Int).Sub(current, state.LastRecordedAccruedRewardPerGem)
		if delta.Sign() > 0 && farmer.GemsStaked > 0 {
			newly := delta.Mul(delta, new(big.Int).SetUint64(farmer.GemsStaked))
			if newly.Cmp(state.ReservedReward) > 0 {
				newly = cloneBigInt(state.ReservedReward)
			}
			if newly.Sign() > 0 {
				state.AccruedReward.Add(state.AccruedReward, newly)
				state.ReservedReward.Sub(state.ReservedReward, newly)
				model.Reserved.Sub(model.Reserved, newly)
				track.Funds.TotalAccruedToStakers.Add(track.Funds.TotalAccruedToStakers, newly)
			}
		}
		state.LastRecordedAccruedRewardPerGem = current
	}
}

// refreshAll refreshes both tracks and, when farmer is non-nil, both of its
// snapshots. Every mutating operation calls this before touching state.
func refreshAll(f *Farm, farmer *Farmer, now uint64) {
	for slot := RewardSlot(0); slot < rewardSlotCount; slot++ {
		track := f.Track(slot)
		refreshTrack(f, track, now)
		if farmer != nil {
			refreshFarmer(track, farmer, slot, now)
		}
	}
}
