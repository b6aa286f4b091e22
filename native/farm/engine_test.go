package farm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"gemfarm/core/events"
	"gemfarm/core/types"
	"gemfarm/crypto"
)

type mockState struct {
	farms    map[string]*Farm
	farmers  map[string]*Farmer
	vaults   map[string]*Vault
	accounts map[string]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		farms:    make(map[string]*Farm),
		farmers:  make(map[string]*Farmer),
		vaults:   make(map[string]*Vault),
		accounts: make(map[string]*types.Account),
	}
}

func addrKey(addr crypto.Address) string {
	return string(addr.Prefix()) + "/" + string(addr.Bytes())
}

func (m *mockState) GetFarm(addr crypto.Address) (*Farm, error) {
	return m.farms[addrKey(addr)].Clone(), nil
}

func (m *mockState) PutFarm(f *Farm) error {
	m.farms[addrKey(f.Address)] = f.Clone()
	return nil
}

func (m *mockState) GetFarmer(farmAddr, owner crypto.Address) (*Farmer, error) {
	return m.farmers[addrKey(farmAddr)+"|"+addrKey(owner)].Clone(), nil
}

func (m *mockState) PutFarmer(f *Farmer) error {
	m.farmers[addrKey(f.Farm)+"|"+addrKey(f.Owner)] = f.Clone()
	return nil
}

func (m *mockState) GetVault(addr crypto.Address) (*Vault, error) {
	return m.vaults[addrKey(addr)].Clone(), nil
}

func (m *mockState) PutVault(v *Vault) error {
	m.vaults[addrKey(v.Address)] = v.Clone()
	return nil
}

func (m *mockState) account(addr crypto.Address) *types.Account {
	key := addrKey(addr)
	acc, ok := m.accounts[key]
	if !ok {
		acc = types.NewAccount()
		m.accounts[key] = acc
	}
	return acc
}

func (m *mockState) BalanceOf(token string, addr crypto.Address) (*big.Int, error) {
	return m.account(addr).Balance(token), nil
}

func (m *mockState) Transfer(token string, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount")
	}
	sender := m.account(from)
	balance := sender.Balance(token)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance", token)
	}
	sender.SetBalance(token, balance.Sub(balance, amount))
	receiver := m.account(to)
	receiver.SetBalance(token, new(big.Int).Add(receiver.Balance(token), amount))
	return nil
}

func (m *mockState) mint(token string, addr crypto.Address, amount int64) {
	acc := m.account(addr)
	acc.SetBalance(token, new(big.Int).Add(acc.Balance(token), big.NewInt(amount)))
}

func (m *mockState) balance(t *testing.T, token string, addr crypto.Address) *big.Int {
	t.Helper()
	bal, err := m.BalanceOf(token, addr)
	if err != nil {
		t.Fatalf("balance of %s: %v", token, err)
	}
	return bal
}

type eventRecorder struct {
	events []events.Event
}

func (r *eventRecorder) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *eventRecorder) types() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func newTestAddress(fill byte) crypto.Address {
	return crypto.MustNewAddress(crypto.GemPrefix, bytes.Repeat([]byte{fill}, 20))
}

const (
	gemToken = "GEM"
	rewToken = "RWD"
)

type testEnv struct {
	engine   *Engine
	state    *mockState
	recorder *eventRecorder
	now      uint64

	manager crypto.Address
	funder  crypto.Address

	farm     crypto.Address
	treasury crypto.Address
	potA     crypto.Address
	potB     crypto.Address
}

func (env *testEnv) setNow(ts uint64) { env.now = ts }

// newTestEnv creates a farm with a variable track A and a fixed track B, both
// paying rewToken, with the given cooldown and unstaking fee.
func newTestEnv(t *testing.T, cooldown uint64, fee int64) *testEnv {
	t.Helper()
	env := &testEnv{
		state:    newMockState(),
		recorder: &eventRecorder{},
		manager:  newTestAddress(0x01),
		funder:   newTestAddress(0x02),
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetEmitter(env.recorder)
	env.engine.SetNowFunc(func() uint64 { return env.now })

	res, err := env.engine.InitFarm(env.manager, FarmConfig{
		FarmID:            "test-farm",
		GemToken:          gemToken,
		FeeToken:          gemToken,
		TrackA:            TrackConfig{Kind: RewardKindVariable, Token: rewToken},
		TrackB:            TrackConfig{Kind: RewardKindFixed, Token: rewToken},
		CooldownPeriodSec: cooldown,
		UnstakingFee:      big.NewInt(fee),
	})
	if err != nil {
		t.Fatalf("init farm: %v", err)
	}
	env.farm = res.Farm
	env.treasury = res.Treasury
	env.potA = res.PotA
	env.potB = res.PotB

	if _, err := env.engine.AuthorizeFunder(env.farm, env.manager, env.funder); err != nil {
		t.Fatalf("authorize funder: %v", err)
	}
	return env
}

// addFarmer registers owner, mints gems into their wallet and deposits them
// into the freshly created vault.
func (env *testEnv) addFarmer(t *testing.T, owner crypto.Address, gems uint64) crypto.Address {
	t.Helper()
	res, err := env.engine.InitFarmer(env.farm, owner)
	if err != nil {
		t.Fatalf("init farmer: %v", err)
	}
	if gems > 0 {
		env.state.mint(gemToken, owner, int64(gems))
		if _, err := env.engine.DepositGem(owner, res.Vault, gems); err != nil {
			t.Fatalf("deposit gems: %v", err)
		}
	}
	return res.Vault
}

func (env *testEnv) fundVariable(t *testing.T, amount int64, duration uint64) {
	t.Helper()
	env.state.mint(rewToken, env.funder, amount)
	_, err := env.engine.FundReward(env.farm, env.funder, FundRewardParams{
		Slot:     RewardSlotA,
		Variable: &VariableFunding{Amount: big.NewInt(amount), DurationSec: duration},
	})
	if err != nil {
		t.Fatalf("fund variable: %v", err)
	}
}

func (env *testEnv) fundFixed(t *testing.T, schedule []FixedPeriod, gemsFunded uint64, amount int64) {
	t.Helper()
	env.state.mint(rewToken, env.funder, amount)
	_, err := env.engine.FundReward(env.farm, env.funder, FundRewardParams{
		Slot:  RewardSlotB,
		Fixed: &FixedFunding{Schedule: schedule, GemsFunded: gemsFunded, Amount: big.NewInt(amount)},
	})
	if err != nil {
		t.Fatalf("fund fixed: %v", err)
	}
}

func requireBalance(t *testing.T, got *big.Int, want int64) {
	t.Helper()
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("balance mismatch: got %s, want %d", got, want)
	}
}

func TestInitFarmDerivesDistinctAddresses(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	addrs := []crypto.Address{env.farm, env.treasury, env.potA, env.potB}
	for i := range addrs {
		for j := i + 1; j < len(addrs); j++ {
			if string(addrs[i].Bytes()) == string(addrs[j].Bytes()) {
				t.Fatalf("derived addresses %d and %d collide", i, j)
			}
		}
	}
}

func TestInitFarmTwiceFails(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	_, err := env.engine.InitFarm(env.manager, FarmConfig{
		FarmID:   "test-farm",
		GemToken: gemToken,
		TrackA:   TrackConfig{Kind: RewardKindVariable, Token: rewToken},
		TrackB:   TrackConfig{Kind: RewardKindFixed, Token: rewToken},
	})
	if !errors.Is(err, ErrFarmExists) {
		t.Fatalf("expected ErrFarmExists, got %v", err)
	}
}

func TestInitFarmerTwiceFails(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 0)
	if _, err := env.engine.InitFarmer(env.farm, owner); !errors.Is(err, ErrFarmerExists) {
		t.Fatalf("expected ErrFarmerExists, got %v", err)
	}
}

func TestUnknownFarmAndFarmer(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	if _, err := env.engine.Stake(newTestAddress(0x77), owner, 1); !errors.Is(err, ErrFarmNotFound) {
		t.Fatalf("expected ErrFarmNotFound, got %v", err)
	}
	if _, err := env.engine.Stake(env.farm, owner, 1); !errors.Is(err, ErrFarmerNotFound) {
		t.Fatalf("expected ErrFarmerNotFound, got %v", err)
	}
	if _, err := env.engine.DepositGem(owner, newTestAddress(0x78), 1); !errors.Is(err, ErrVaultNotFound) {
		t.Fatalf("expected ErrVaultNotFound, got %v", err)
	}
}

func TestDepositRequiresVaultOwner(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	stranger := newTestAddress(0x11)
	vault := env.addFarmer(t, owner, 5)
	env.state.mint(gemToken, stranger, 5)
	if _, err := env.engine.DepositGem(stranger, vault, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.WithdrawGem(stranger, vault, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDepositAndWithdrawMoveGems(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	vault := env.addFarmer(t, owner, 5)

	requireBalance(t, env.state.balance(t, gemToken, owner), 0)
	requireBalance(t, env.state.balance(t, gemToken, vault), 5)

	res, err := env.engine.WithdrawGem(owner, vault, 3)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.GemCount != 2 {
		t.Fatalf("gem count after withdraw: got %d, want 2", res.GemCount)
	}
	requireBalance(t, env.state.balance(t, gemToken, owner), 3)

	if _, err := env.engine.WithdrawGem(owner, vault, 3); !errors.Is(err, ErrInsufficientGems) {
		t.Fatalf("expected ErrInsufficientGems, got %v", err)
	}
}

func TestStakeLocksVault(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	vault := env.addFarmer(t, owner, 5)

	res, err := env.engine.Stake(env.farm, owner, 3)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if res.GemsStaked != 3 {
		t.Fatalf("staked count: got %d, want 3", res.GemsStaked)
	}
	stored, _ := env.state.GetVault(vault)
	if !stored.Locked {
		t.Fatal("vault should lock on first stake")
	}
	if _, err := env.engine.DepositGem(owner, vault, 1); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked on deposit, got %v", err)
	}
	if _, err := env.engine.WithdrawGem(owner, vault, 1); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked on withdraw, got %v", err)
	}
}

func TestStakeIsAdditiveAndBoundedByVault(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 5)

	if _, err := env.engine.Stake(env.farm, owner, 2); err != nil {
		t.Fatalf("stake: %v", err)
	}
	res, err := env.engine.Stake(env.farm, owner, 3)
	if err != nil {
		t.Fatalf("second stake: %v", err)
	}
	if res.GemsStaked != 5 {
		t.Fatalf("staked count: got %d, want 5", res.GemsStaked)
	}
	if _, err := env.engine.Stake(env.farm, owner, 1); !errors.Is(err, ErrInsufficientGems) {
		t.Fatalf("expected ErrInsufficientGems, got %v", err)
	}

	f, _ := env.state.GetFarm(env.farm)
	if f.GemsStaked != 5 || f.StakedFarmerCount != 1 {
		t.Fatalf("farm counters: gems=%d farmers=%d", f.GemsStaked, f.StakedFarmerCount)
	}
}

func TestFlashDepositStakesInOneStep(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	vault := env.addFarmer(t, owner, 0)
	env.state.mint(gemToken, owner, 4)

	res, err := env.engine.FlashDeposit(env.farm, owner, 4)
	if err != nil {
		t.Fatalf("flash deposit: %v", err)
	}
	if res.GemsStaked != 4 {
		t.Fatalf("staked count: got %d, want 4", res.GemsStaked)
	}
	stored, _ := env.state.GetVault(vault)
	if stored.GemCount != 4 || !stored.Locked {
		t.Fatalf("vault after flash deposit: count=%d locked=%v", stored.GemCount, stored.Locked)
	}
	requireBalance(t, env.state.balance(t, gemToken, owner), 0)
}

func TestUnstakeTwoStepCooldown(t *testing.T) {
	env := newTestEnv(t, 100, 7)
	owner := newTestAddress(0x10)
	vault := env.addFarmer(t, owner, 5)
	env.state.mint(gemToken, owner, 7) // fee money

	env.setNow(10)
	if _, err := env.engine.Stake(env.farm, owner, 5); err != nil {
		t.Fatalf("stake: %v", err)
	}

	env.setNow(20)
	res, err := env.engine.Unstake(env.farm, owner)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if res.GemsUnstaked != 5 {
		t.Fatalf("gems unstaked: got %d, want 5", res.GemsUnstaked)
	}
	if res.CooldownEndsTs != 120 {
		t.Fatalf("cooldown end: got %d, want 120", res.CooldownEndsTs)
	}
	requireBalance(t, env.state.balance(t, gemToken, env.treasury), 7)

	f, _ := env.state.GetFarm(env.farm)
	if f.GemsStaked != 0 || f.StakedFarmerCount != 0 {
		t.Fatalf("farm counters after unstake: gems=%d farmers=%d", f.GemsStaked, f.StakedFarmerCount)
	}

	// The vault stays locked through the cooldown.
	stored, _ := env.state.GetVault(vault)
	if !stored.Locked {
		t.Fatal("vault should stay locked during cooldown")
	}
	if _, err := env.engine.WithdrawGem(owner, vault, 1); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked during cooldown, got %v", err)
	}
	if _, err := env.engine.Stake(env.farm, owner, 1); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked on restake during cooldown, got %v", err)
	}

	env.setNow(119)
	if _, err := env.engine.Unstake(env.farm, owner); !errors.Is(err, ErrWindowExpired) {
		t.Fatalf("expected ErrWindowExpired before cooldown end, got %v", err)
	}

	env.setNow(120)
	res, err = env.engine.Unstake(env.farm, owner)
	if err != nil {
		t.Fatalf("second unstake: %v", err)
	}
	if !res.Unlocked {
		t.Fatal("second unstake should unlock the vault")
	}
	if _, err := env.engine.WithdrawGem(owner, vault, 5); err != nil {
		t.Fatalf("withdraw after unlock: %v", err)
	}
	requireBalance(t, env.state.balance(t, gemToken, owner), 5)
}

func TestUnstakeWithNothingStaked(t *testing.T) {
	env := newTestEnv(t, 100, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 5)
	if _, err := env.engine.Unstake(env.farm, owner); !errors.Is(err, ErrNothingStaked) {
		t.Fatalf("expected ErrNothingStaked, got %v", err)
	}
}

func TestStakeEmitsEvents(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 2)
	env.recorder.events = nil

	if _, err := env.engine.Stake(env.farm, owner, 2); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := env.engine.Unstake(env.farm, owner); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	got := env.recorder.types()
	want := []string{events.TypeGemsStaked, events.TypeGemsUnstaked}
	if len(got) != len(want) {
		t.Fatalf("event count: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPayoutFromTreasury(t *testing.T) {
	env := newTestEnv(t, 100, 10)
	owner := newTestAddress(0x10)
	env.addFarmer(t, owner, 1)
	env.state.mint(gemToken, owner, 10)
	if _, err := env.engine.Stake(env.farm, owner, 1); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := env.engine.Unstake(env.farm, owner); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	requireBalance(t, env.state.balance(t, gemToken, env.treasury), 10)

	dest := newTestAddress(0x20)
	if _, err := env.engine.PayoutFromTreasury(env.farm, env.funder, dest, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-manager, got %v", err)
	}
	if _, err := env.engine.PayoutFromTreasury(env.farm, env.manager, dest, big.NewInt(11)); !errors.Is(err, ErrInsufficientPotBalance) {
		t.Fatalf("expected ErrInsufficientPotBalance, got %v", err)
	}
	res, err := env.engine.PayoutFromTreasury(env.farm, env.manager, dest, big.NewInt(6))
	if err != nil {
		t.Fatalf("treasury payout: %v", err)
	}
	if res.Amount.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("payout amount: got %s, want 6", res.Amount)
	}
	requireBalance(t, env.state.balance(t, gemToken, dest), 6)
	requireBalance(t, env.state.balance(t, gemToken, env.treasury), 4)
}
