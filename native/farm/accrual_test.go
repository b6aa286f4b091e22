package farm

import (
	"errors"
	"math/big"
	"testing"

	"gemfarm/crypto"
)

func TestVariableAccrualHalfWindow(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.fundVariable(t, 10000, 100)

	env.setNow(50)
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBalance(t, res.PaidA, 5000)
	requireBalance(t, env.state.balance(t, rewToken, owner), 5000)
	requireBalance(t, env.state.balance(t, rewToken, env.potA), 5000)
}

func TestVariableAccrualStopsAtWindowEnd(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.fundVariable(t, 10000, 100)

	// Far past the window: accrual clips to the 100s funded duration.
	env.setNow(1000)
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBalance(t, res.PaidA, 10000)
	requireBalance(t, env.state.balance(t, rewToken, env.potA), 0)
}

func TestVariableAccrualProportionalSplit(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	small := newTestAddress(0x10)
	large := newTestAddress(0x11)
	env.addFarmer(t, small, 1)
	env.addFarmer(t, large, 3)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, small, 1); err != nil {
		t.Fatalf("stake small: %v", err)
	}
	if _, err := env.engine.Stake(env.farm, large, 3); err != nil {
		t.Fatalf("stake large: %v", err)
	}
	env.fundVariable(t, 8000, 80)

	env.setNow(80)
	resSmall, err := env.engine.Claim(env.farm, small)
	if err != nil {
		t.Fatalf("claim small: %v", err)
	}
	resLarge, err := env.engine.Claim(env.farm, large)
	if err != nil {
		t.Fatalf("claim large: %v", err)
	}
	requireBalance(t, resSmall.PaidA, 2000)
	requireBalance(t, resLarge.PaidA, 6000)
	requireBalance(t, env.state.balance(t, rewToken, env.potA), 0)
}

func TestVariableNoAccrualWithNothingStaked(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(0)
	env.fundVariable(t, 10000, 100)

	// Nothing staked for the first 40 seconds: that reward stays in the pool.
	env.setNow(40)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.setNow(100)
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBalance(t, res.PaidA, 6000)

	f, _ := env.state.GetFarm(env.farm)
	track := f.Track(RewardSlotA)
	requireBalance(t, track.Funds.TotalAccruedToStakers, 6000)
	requireBalance(t, track.Funds.Available(), 4000)
}

func TestClaimIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.fundVariable(t, 10000, 100)

	env.setNow(50)
	if _, err := env.engine.Claim(env.farm, owner); err != nil {
		t.Fatalf("claim: %v", err)
	}
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	requireBalance(t, res.PaidA, 0)
	requireBalance(t, env.state.balance(t, rewToken, owner), 5000)
}

func TestClaimFailsWhenPotDrained(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.fundVariable(t, 10000, 100)

	// Corrupt the pot directly to simulate missing backing funds.
	env.state.account(env.potA).SetBalance(rewToken, big.NewInt(1))

	env.setNow(50)
	if _, err := env.engine.Claim(env.farm, owner); !errors.Is(err, ErrInsufficientPotBalance) {
		t.Fatalf("expected ErrInsufficientPotBalance, got %v", err)
	}
	// The failed claim must not mark anything as paid.
	farmer, _ := env.state.GetFarmer(env.farm, owner)
	requireBalance(t, farmer.Reward(RewardSlotA).PaidOutReward, 0)
}

func TestRefreshByThirdPartyMatchesClaim(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 2)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, owner, 2); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.fundVariable(t, 10000, 100)

	env.setNow(30)
	if _, err := env.engine.RefreshFarmer(env.farm, owner); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	farmer, _ := env.state.GetFarmer(env.farm, owner)
	requireBalance(t, farmer.Reward(RewardSlotA).AccruedReward, 3000)

	// Refreshing again at the same timestamp accrues nothing further.
	if _, err := env.engine.RefreshFarmer(env.farm, owner); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	farmer, _ = env.state.GetFarmer(env.farm, owner)
	requireBalance(t, farmer.Reward(RewardSlotA).AccruedReward, 3000)
}

func fixedTestSchedule() []FixedPeriod {
	return []FixedPeriod{
		{Rate: big.NewInt(5), DurationSec: 3},
		{Rate: big.NewInt(10), DurationSec: 3},
		{Rate: big.NewInt(0), DurationSec: 6},
	}
}

func TestFixedSchedulePaysFullPerGemTotal(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 2)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, owner, 2); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// Schedule total per gem: 5*3 + 10*3 + 0*6 = 45 over 12 seconds.
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	env.setNow(112)
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBalance(t, res.PaidB, 90)
	requireBalance(t, env.state.balance(t, rewToken, owner), 90)
}

func TestFixedScheduleMidwayAccrual(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	// 3s of period one plus 1s of period two: 15 + 10 = 25 per gem.
	env.setNow(104)
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBalance(t, res.PaidB, 25)

	// The rest of period two pays out; the zero-rate tail adds nothing.
	env.setNow(110)
	res, err = env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("tail claim: %v", err)
	}
	requireBalance(t, res.PaidB, 20)
	env.setNow(200)
	res, err = env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("final claim: %v", err)
	}
	requireBalance(t, res.PaidB, 0)
	requireBalance(t, env.state.balance(t, rewToken, owner), 45)
}

func TestFixedCertificationBackfillsTrackAccrual(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 2)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, owner, 2); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	// Nothing touches the farmer until after the schedule ran out, so the
	// gems certify lazily at claim time.
	env.setNow(112)
	res, err := env.engine.Claim(env.farm, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	requireBalance(t, res.PaidB, 90)

	f, _ := env.state.GetFarm(env.farm)
	model := f.Track(RewardSlotB).Fixed
	if model.GemsParticipating != 2 {
		t.Fatalf("participating gems: got %d, want 2", model.GemsParticipating)
	}
	// GemsMadeWhole covers every participating gem's full schedule even though
	// certification came after the schedule start.
	want := new(big.Int).Mul(big.NewInt(45), new(big.Int).SetUint64(model.GemsParticipating))
	if model.GemsMadeWhole.Cmp(want) != 0 {
		t.Fatalf("gems made whole: got %s, want %s", model.GemsMadeWhole, want)
	}
}

func TestFixedTrackAccrualCompletesAfterMidScheduleCertification(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	// Certify midway: the backfill covers [100, 104], the track refresh covers
	// the rest.
	env.setNow(104)
	if _, err := env.engine.RefreshFarmer(env.farm, owner); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	f, _ := env.state.GetFarm(env.farm)
	requireBalance(t, f.Track(RewardSlotB).Fixed.GemsMadeWhole, 25)

	env.setNow(200)
	if _, err := env.engine.Claim(env.farm, owner); err != nil {
		t.Fatalf("claim: %v", err)
	}
	f, _ = env.state.GetFarm(env.farm)
	requireBalance(t, f.Track(RewardSlotB).Fixed.GemsMadeWhole, 45)
}

func TestFixedLateStakerEarnsRemainingShare(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	early := newTestAddress(0x10)
	late := newTestAddress(0x11)
	env.addFarmer(t, early, 1)
	env.addFarmer(t, late, 2)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, early, 1); err != nil {
		t.Fatalf("stake early: %v", err)
	}
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	// Joining 3s in misses the first period's 15 per gem.
	env.setNow(103)
	if _, err := env.engine.Stake(env.farm, late, 2); err != nil {
		t.Fatalf("stake late: %v", err)
	}

	env.setNow(200)
	resEarly, err := env.engine.Claim(env.farm, early)
	if err != nil {
		t.Fatalf("claim early: %v", err)
	}
	resLate, err := env.engine.Claim(env.farm, late)
	if err != nil {
		t.Fatalf("claim late: %v", err)
	}
	requireBalance(t, resEarly.PaidB, 45)
	requireBalance(t, resLate.PaidB, 60)
}

func TestFixedStakeRejectedWhenUnderfunded(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	whale := newTestAddress(0x10)
	minnow := newTestAddress(0x11)
	env.addFarmer(t, whale, 10)
	env.addFarmer(t, minnow, 1)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, whale, 10); err != nil {
		t.Fatalf("stake whale: %v", err)
	}
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	// An op touching the whale reserves the full funding for their 10 gems.
	env.setNow(101)
	if _, err := env.engine.RefreshFarmer(env.farm, whale); err != nil {
		t.Fatalf("refresh whale: %v", err)
	}
	if _, err := env.engine.Stake(env.farm, minnow, 1); !errors.Is(err, ErrInsufficientPotBalance) {
		t.Fatalf("expected ErrInsufficientPotBalance, got %v", err)
	}
}

func TestFixedUnstakeReleasesReservation(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	first := newTestAddress(0x10)
	second := newTestAddress(0x11)
	env.addFarmer(t, first, 10)
	env.addFarmer(t, second, 10)

	env.setNow(50)
	if _, err := env.engine.Stake(env.farm, first, 10); err != nil {
		t.Fatalf("stake first: %v", err)
	}
	env.setNow(100)
	env.fundFixed(t, fixedTestSchedule(), 10, 450)

	if _, err := env.engine.RefreshFarmer(env.farm, first); err != nil {
		t.Fatalf("refresh first: %v", err)
	}
	if _, err := env.engine.Unstake(env.farm, first); err != nil {
		t.Fatalf("unstake first: %v", err)
	}

	// The released reservation lets another farmer enroll for the remainder.
	env.setNow(103)
	if _, err := env.engine.Stake(env.farm, second, 10); err != nil {
		t.Fatalf("stake second after release: %v", err)
	}
	env.setNow(200)
	res, err := env.engine.Claim(env.farm, second)
	if err != nil {
		t.Fatalf("claim second: %v", err)
	}
	// 45 per gem minus the 15 elapsed before joining, across 10 gems.
	requireBalance(t, res.PaidB, 300)
}

func TestTrackFundsConservation(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	other := newTestAddress(0x11)
	env.addFarmer(t, owner, 2)
	env.addFarmer(t, other, 3)

	env.setNow(0)
	if _, err := env.engine.Stake(env.farm, owner, 2); err != nil {
		t.Fatalf("stake owner: %v", err)
	}
	env.fundVariable(t, 9999, 77)

	env.setNow(13)
	if _, err := env.engine.Stake(env.farm, other, 3); err != nil {
		t.Fatalf("stake other: %v", err)
	}
	env.setNow(41)
	if _, err := env.engine.Claim(env.farm, owner); err != nil {
		t.Fatalf("claim owner: %v", err)
	}
	env.setNow(92)
	if _, err := env.engine.Claim(env.farm, other); err != nil {
		t.Fatalf("claim other: %v", err)
	}
	if _, err := env.engine.Claim(env.farm, owner); err != nil {
		t.Fatalf("final claim owner: %v", err)
	}

	f, _ := env.state.GetFarm(env.farm)
	track := f.Track(RewardSlotA)
	potBalance := env.state.balance(t, rewToken, env.potA)

	paid := big.NewInt(0)
	for _, addr := range []crypto.Address{owner, other} {
		farmer, _ := env.state.GetFarmer(env.farm, addr)
		state := farmer.Reward(RewardSlotA)
		paid.Add(paid, state.PaidOutReward)
		if state.PaidOutReward.Cmp(state.AccruedReward) != 0 {
			t.Fatalf("claim left unpaid accrual for %s", addr)
		}
	}

	// funded - refunded - paid out stays in the pot.
	expected := new(big.Int).Sub(track.Funds.TotalFunded, track.Funds.TotalRefunded)
	expected.Sub(expected, paid)
	if potBalance.Cmp(expected) != 0 {
		t.Fatalf("pot balance %s does not match funded-refunded-paid %s", potBalance, expected)
	}
	// Accrued rewards never exceed the net funding.
	net := new(big.Int).Sub(track.Funds.TotalFunded, track.Funds.TotalRefunded)
	if track.Funds.TotalAccruedToStakers.Cmp(net) > 0 {
		t.Fatalf("accrued %s exceeds net funding %s", track.Funds.TotalAccruedToStakers, net)
	}
}
