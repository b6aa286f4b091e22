package farm

import (
	"fmt"
	"math/big"
	"time"

	"gemfarm/core/events"
	"gemfarm/crypto"
)

// State is the narrow persistence and token-movement surface the engine
// consumes. Implementations must apply each Put atomically and treat missing
// records as (nil, nil).
type State interface {
	GetFarm(addr crypto.Address) (*Farm, error)
	PutFarm(f *Farm) error
	GetFarmer(farmAddr, owner crypto.Address) (*Farmer, error)
	PutFarmer(f *Farmer) error
	GetVault(addr crypto.Address) (*Vault, error)
	PutVault(v *Vault) error
	BalanceOf(token string, addr crypto.Address) (*big.Int, error)
	Transfer(token string, from, to crypto.Address, amount *big.Int) error
}

// Engine wires the farm ledger logic with external state and event emitters.
// Every public operation refreshes the touched reward tracks and farmer
// snapshots before applying its own transition, and aborts without partial
// mutation when a precondition fails.
type Engine struct {
	state   State
	emitter events.Emitter
	nowFn   func() uint64
}

// NewEngine creates a farm engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) loadFarm(addr crypto.Address) (*Farm, error) {
	if e.state == nil {
		return nil, errNilState
	}
	f, err := e.state.GetFarm(addr)
	if err != nil {
		return nil, fmt.Errorf("load farm: %w", err)
	}
	if f == nil {
		return nil, ErrFarmNotFound
	}
	return f.Clone(), nil
}

func (e *Engine) loadFarmer(farmAddr, owner crypto.Address) (*Farmer, error) {
	farmer, err := e.state.GetFarmer(farmAddr, owner)
	if err != nil {
		return nil, fmt.Errorf("load farmer: %w", err)
	}
	if farmer == nil {
		return nil, ErrFarmerNotFound
	}
	return farmer.Clone(), nil
}

func (e *Engine) loadVault(addr crypto.Address) (*Vault, error) {
	vault, err := e.state.GetVault(addr)
	if err != nil {
		return nil, fmt.Errorf("load vault: %w", err)
	}
	if vault == nil {
		return nil, ErrVaultNotFound
	}
	return vault.Clone(), nil
}

// TrackConfig describes one reward slot of a new farm.
type TrackConfig struct {
	Kind  RewardKind
	Token string
}

// FarmConfig carries the parameters of initFarm.
type FarmConfig struct {
	// FarmID disambiguates farms created by the same manager; it seeds the
	// derived farm address.
	FarmID            string
	GemToken          string
	FeeToken          string
	TrackA            TrackConfig
	TrackB            TrackConfig
	CooldownPeriodSec uint64
	UnstakingFee      *big.Int
}

// InitFarmResult reports the addresses initFarm created.
type InitFarmResult struct {
	Farm     crypto.Address `json:"farm"`
	Bank     crypto.Address `json:"bank"`
	Treasury crypto.Address `json:"treasury"`
	PotA     crypto.Address `json:"potA"`
	PotB     crypto.Address `json:"potB"`
}

func newTrack(cfg TrackConfig, pot crypto.Address, now uint64) RewardTrack {
	track := RewardTrack{
		Kind:  cfg.Kind,
		Token: cfg.Token,
		Pot:   pot,
		Funds: TrackFunds{
			TotalFunded:           big.NewInt(0),
			TotalRefunded:         big.NewInt(0),
			TotalAccruedToStakers: big.NewInt(0),
		},
	}
	switch cfg.Kind {
	case RewardKindVariable:
		track.Variable = &VariableRateModel{
			RewardRate:          big.NewInt(0),
			RewardLastUpdatedTs: now,
			AccruedRewardPerGem: big.NewInt(0),
		}
	case RewardKindFixed:
		track.Fixed = &FixedRateModel{
			GemsMadeWhole: big.NewInt(0),
			Reserved:      big.NewInt(0),
		}
	}
	return track
}

// InitFarm creates a farm managed by the caller, deriving the farm, bank,
// treasury and reward pot addresses deterministically from the manager and
// farm id.
func (e *Engine) InitFarm(manager crypto.Address, cfg FarmConfig) (*InitFarmResult, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if cfg.GemToken == "" || cfg.TrackA.Token == "" || cfg.TrackB.Token == "" {
		return nil, fmt.Errorf("init farm: token symbols must be set")
	}
	if cfg.FeeToken == "" {
		cfg.FeeToken = cfg.GemToken
	}
	farmAddr := crypto.DeriveAddress(crypto.NamespaceFarm, manager.Bytes(), []byte(cfg.FarmID))
	existing, err := e.state.GetFarm(farmAddr)
	if err != nil {
		return nil, fmt.Errorf("init farm: %w", err)
	}
	if existing != nil {
		return nil, ErrFarmExists
	}

	now := e.now()
	bank := crypto.DeriveAddress(crypto.NamespaceBank, farmAddr.Bytes())
	treasury := crypto.DeriveAddress(crypto.NamespaceTreasury, farmAddr.Bytes())
	potA := crypto.DeriveAddress(crypto.NamespacePot, farmAddr.Bytes(), []byte{byte(RewardSlotA)})
	potB := crypto.DeriveAddress(crypto.NamespacePot, farmAddr.Bytes(), []byte{byte(RewardSlotB)})

	f := &Farm{
		Address:           farmAddr,
		Manager:           manager,
		Bank:              bank,
		Treasury:          treasury,
		GemToken:          cfg.GemToken,
		FeeToken:          cfg.FeeToken,
		CooldownPeriodSec: cfg.CooldownPeriodSec,
		UnstakingFee:      cloneBigInt(cfg.UnstakingFee),
	}
	f.Tracks[RewardSlotA] = newTrack(cfg.TrackA, potA, now)
	f.Tracks[RewardSlotB] = newTrack(cfg.TrackB, potB, now)

	if err := e.state.PutFarm(f); err != nil {
		return nil, fmt.Errorf("init farm: %w", err)
	}
	e.emit(events.FarmInitialized{Farm: farmAddr, Manager: manager, Treasury: treasury})
	return &InitFarmResult{Farm: farmAddr, Bank: bank, Treasury: treasury, PotA: potA, PotB: potB}, nil
}

// InitFarmerResult reports the records initFarmer created.
type InitFarmerResult struct {
	Farmer crypto.Address `json:"farmer"`
	Vault  crypto.Address `json:"vault"`
}

// InitFarmer registers the caller as a farmer on the given farm and creates
// their empty, unlocked vault.
func (e *Engine) InitFarmer(farmAddr, owner crypto.Address) (*InitFarmerResult, error) {
	f, err := e.loadFarm(farmAddr)
	if err != nil {
		return nil, err
	}
	existing, err := e.state.GetFarmer(farmAddr, owner)
	if err != nil {
		return nil, fmt.Errorf("init farmer: %w", err)
	}
	if existing != nil {
		return nil, ErrFarmerExists
	}

	vaultAddr := crypto.DeriveAddress(crypto.NamespaceVault, f.Bank.Bytes(), owner.Bytes())
	farmer := &Farmer{
		Farm:  farmAddr,
		Owner: owner,
		Vault: vaultAddr,
	}
	for slot := range farmer.Rewards {
		farmer.Rewards[slot] = FarmerRewardState{
			PaidOutReward:                   big.NewInt(0),
			AccruedReward:                   big.NewInt(0),
			LastRecordedAccruedRewardPerGem: big.NewInt(0),
			ReservedReward:                  big.NewInt(0),
		}
	}
	vault := &Vault{Address: vaultAddr, Farm: farmAddr, Owner: owner}

	if err := e.state.PutFarmer(farmer); err != nil {
		return nil, fmt.Errorf("init farmer: %w", err)
	}
	if err := e.state.PutVault(vault); err != nil {
		return nil, fmt.Errorf("init farmer: %w", err)
	}
	farmerAddr := crypto.DeriveAddress(crypto.NamespaceFarmer, farmAddr.Bytes(), owner.Bytes())
	return &InitFarmerResult{Farmer: farmerAddr, Vault: vaultAddr}, nil
}
