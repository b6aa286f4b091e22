package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"gemfarm/crypto"
	"gemfarm/native/farm"
)

var (
	errInvalidParams = errors.New("rpc: invalid params")
	errNotFound      = errors.New("rpc: not found")
)

func invalidParamsf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errInvalidParams, fmt.Sprintf(format, args...))
}

func (s *Server) registerHandlers() {
	s.handlers = map[string]handler{
		"farm_initFarm":           {fn: s.handleInitFarm, mutating: true},
		"farm_initFarmer":         {fn: s.handleInitFarmer, mutating: true},
		"farm_depositGem":         {fn: s.handleDepositGem, mutating: true},
		"farm_withdrawGem":        {fn: s.handleWithdrawGem, mutating: true},
		"farm_stake":              {fn: s.handleStake, mutating: true},
		"farm_flashDeposit":       {fn: s.handleFlashDeposit, mutating: true},
		"farm_unstake":            {fn: s.handleUnstake, mutating: true},
		"farm_claim":              {fn: s.handleClaim, mutating: true},
		"farm_refreshFarmer":      {fn: s.handleRefreshFarmer, mutating: true},
		"farm_authorizeFunder":    {fn: s.handleAuthorizeFunder, mutating: true},
		"farm_deauthorizeFunder":  {fn: s.handleDeauthorizeFunder, mutating: true},
		"farm_fundReward":         {fn: s.handleFundReward, mutating: true},
		"farm_cancelReward":       {fn: s.handleCancelReward, mutating: true},
		"farm_lockReward":         {fn: s.handleLockReward, mutating: true},
		"farm_payoutFromTreasury": {fn: s.handlePayoutFromTreasury, mutating: true},
		"farm_mint":               {fn: s.handleMint, mutating: true},

		"farm_getFarm":    {fn: s.handleGetFarm},
		"farm_getFarmer":  {fn: s.handleGetFarmer},
		"farm_getVault":   {fn: s.handleGetVault},
		"farm_getBalance": {fn: s.handleGetBalance},
	}
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return invalidParamsf("missing params object")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidParamsf("%v", err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	if value == "" {
		return crypto.Address{}, invalidParamsf("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(value)
	if err != nil {
		return crypto.Address{}, invalidParamsf("%s: %v", field, err)
	}
	return addr, nil
}

// parseAmount parses a non-negative base-10 integer amount. Amounts travel as
// strings so callers never lose precision to JSON number parsing.
func parseAmount(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, invalidParamsf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, invalidParamsf("%s must be a non-negative base-10 integer", field)
	}
	return amount, nil
}

func parseSlot(value string) (farm.RewardSlot, error) {
	slot, ok := farm.ParseRewardSlot(value)
	if !ok {
		return 0, invalidParamsf("slot must be %q or %q", "A", "B")
	}
	return slot, nil
}

func parseKind(value string) (farm.RewardKind, error) {
	switch value {
	case "variable":
		return farm.RewardKindVariable, nil
	case "fixed":
		return farm.RewardKindFixed, nil
	default:
		return 0, invalidParamsf("kind must be %q or %q", "variable", "fixed")
	}
}

type trackParams struct {
	Kind  string `json:"kind"`
	Token string `json:"token"`
}

type initFarmParams struct {
	Manager           string      `json:"manager"`
	FarmID            string      `json:"farmId"`
	GemToken          string      `json:"gemToken"`
	FeeToken          string      `json:"feeToken"`
	TrackA            trackParams `json:"trackA"`
	TrackB            trackParams `json:"trackB"`
	CooldownPeriodSec uint64      `json:"cooldownPeriodSec"`
	UnstakingFee      string      `json:"unstakingFee"`
}

func (s *Server) handleInitFarm(raw json.RawMessage) (interface{}, error) {
	var p initFarmParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	manager, err := parseAddress("manager", p.Manager)
	if err != nil {
		return nil, err
	}
	if p.FarmID == "" {
		return nil, invalidParamsf("farmId is required")
	}
	if p.GemToken == "" || p.FeeToken == "" {
		return nil, invalidParamsf("gemToken and feeToken are required")
	}
	kindA, err := parseKind(p.TrackA.Kind)
	if err != nil {
		return nil, err
	}
	kindB, err := parseKind(p.TrackB.Kind)
	if err != nil {
		return nil, err
	}
	if p.TrackA.Token == "" || p.TrackB.Token == "" {
		return nil, invalidParamsf("both track tokens are required")
	}
	fee, err := parseAmount("unstakingFee", p.UnstakingFee)
	if err != nil {
		return nil, err
	}
	return s.engine.InitFarm(manager, farm.FarmConfig{
		FarmID:            p.FarmID,
		GemToken:          p.GemToken,
		FeeToken:          p.FeeToken,
		TrackA:            farm.TrackConfig{Kind: kindA, Token: p.TrackA.Token},
		TrackB:            farm.TrackConfig{Kind: kindB, Token: p.TrackB.Token},
		CooldownPeriodSec: p.CooldownPeriodSec,
		UnstakingFee:      fee,
	})
}

type farmerParams struct {
	Farm  string `json:"farm"`
	Owner string `json:"owner"`
}

func (p farmerParams) addresses() (crypto.Address, crypto.Address, error) {
	farmAddr, err := parseAddress("farm", p.Farm)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, err
	}
	return farmAddr, owner, nil
}

func (s *Server) handleInitFarmer(raw json.RawMessage) (interface{}, error) {
	var p farmerParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := p.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.InitFarmer(farmAddr, owner)
}

type vaultGemParams struct {
	Caller string `json:"caller"`
	Vault  string `json:"vault"`
	Gems   uint64 `json:"gems"`
}

func (s *Server) handleDepositGem(raw json.RawMessage) (interface{}, error) {
	var p vaultGemParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	vault, err := parseAddress("vault", p.Vault)
	if err != nil {
		return nil, err
	}
	return s.engine.DepositGem(caller, vault, p.Gems)
}

func (s *Server) handleWithdrawGem(raw json.RawMessage) (interface{}, error) {
	var p vaultGemParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	vault, err := parseAddress("vault", p.Vault)
	if err != nil {
		return nil, err
	}
	return s.engine.WithdrawGem(caller, vault, p.Gems)
}

type stakeParams struct {
	Farm  string `json:"farm"`
	Owner string `json:"owner"`
	Gems  uint64 `json:"gems"`
}

func (s *Server) handleStake(raw json.RawMessage) (interface{}, error) {
	var p stakeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := farmerParams{Farm: p.Farm, Owner: p.Owner}.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.Stake(farmAddr, owner, p.Gems)
}

func (s *Server) handleFlashDeposit(raw json.RawMessage) (interface{}, error) {
	var p stakeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := farmerParams{Farm: p.Farm, Owner: p.Owner}.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.FlashDeposit(farmAddr, owner, p.Gems)
}

func (s *Server) handleUnstake(raw json.RawMessage) (interface{}, error) {
	var p farmerParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := p.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.Unstake(farmAddr, owner)
}

func (s *Server) handleClaim(raw json.RawMessage) (interface{}, error) {
	var p farmerParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := p.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.Claim(farmAddr, owner)
}

func (s *Server) handleRefreshFarmer(raw json.RawMessage) (interface{}, error) {
	var p farmerParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := p.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.RefreshFarmer(farmAddr, owner)
}

type funderParams struct {
	Farm   string `json:"farm"`
	Caller string `json:"caller"`
	Funder string `json:"funder"`
}

func (p funderParams) addresses() (crypto.Address, crypto.Address, crypto.Address, error) {
	farmAddr, err := parseAddress("farm", p.Farm)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, err
	}
	funder, err := parseAddress("funder", p.Funder)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, crypto.Address{}, err
	}
	return farmAddr, caller, funder, nil
}

func (s *Server) handleAuthorizeFunder(raw json.RawMessage) (interface{}, error) {
	var p funderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, caller, funder, err := p.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.AuthorizeFunder(farmAddr, caller, funder)
}

func (s *Server) handleDeauthorizeFunder(raw json.RawMessage) (interface{}, error) {
	var p funderParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, caller, funder, err := p.addresses()
	if err != nil {
		return nil, err
	}
	return s.engine.DeauthorizeFunder(farmAddr, caller, funder)
}

type fixedPeriodParams struct {
	Rate        string `json:"rate"`
	DurationSec uint64 `json:"durationSec"`
}

type fundRewardParams struct {
	Farm     string `json:"farm"`
	Caller   string `json:"caller"`
	Slot     string `json:"slot"`
	Variable *struct {
		Amount      string `json:"amount"`
		DurationSec uint64 `json:"durationSec"`
	} `json:"variable,omitempty"`
	Fixed *struct {
		Schedule   []fixedPeriodParams `json:"schedule"`
		GemsFunded uint64              `json:"gemsFunded"`
		Amount     string              `json:"amount"`
	} `json:"fixed,omitempty"`
}

func (s *Server) handleFundReward(raw json.RawMessage) (interface{}, error) {
	var p fundRewardParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, err := parseAddress("farm", p.Farm)
	if err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	slot, err := parseSlot(p.Slot)
	if err != nil {
		return nil, err
	}
	if (p.Variable == nil) == (p.Fixed == nil) {
		return nil, invalidParamsf("exactly one of variable or fixed is required")
	}
	params := farm.FundRewardParams{Slot: slot}
	if p.Variable != nil {
		amount, err := parseAmount("variable.amount", p.Variable.Amount)
		if err != nil {
			return nil, err
		}
		params.Variable = &farm.VariableFunding{Amount: amount, DurationSec: p.Variable.DurationSec}
	}
	if p.Fixed != nil {
		amount, err := parseAmount("fixed.amount", p.Fixed.Amount)
		if err != nil {
			return nil, err
		}
		schedule := make([]farm.FixedPeriod, 0, len(p.Fixed.Schedule))
		for i, period := range p.Fixed.Schedule {
			rate, err := parseAmount(fmt.Sprintf("fixed.schedule[%d].rate", i), period.Rate)
			if err != nil {
				return nil, err
			}
			schedule = append(schedule, farm.FixedPeriod{Rate: rate, DurationSec: period.DurationSec})
		}
		params.Fixed = &farm.FixedFunding{Schedule: schedule, GemsFunded: p.Fixed.GemsFunded, Amount: amount}
	}
	return s.engine.FundReward(farmAddr, caller, params)
}

type slotParams struct {
	Farm   string `json:"farm"`
	Caller string `json:"caller"`
	Slot   string `json:"slot"`
}

func (p slotParams) decode() (crypto.Address, crypto.Address, farm.RewardSlot, error) {
	farmAddr, err := parseAddress("farm", p.Farm)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, 0, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, 0, err
	}
	slot, err := parseSlot(p.Slot)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, 0, err
	}
	return farmAddr, caller, slot, nil
}

func (s *Server) handleCancelReward(raw json.RawMessage) (interface{}, error) {
	var p slotParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, caller, slot, err := p.decode()
	if err != nil {
		return nil, err
	}
	return s.engine.CancelReward(farmAddr, caller, slot)
}

func (s *Server) handleLockReward(raw json.RawMessage) (interface{}, error) {
	var p slotParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, caller, slot, err := p.decode()
	if err != nil {
		return nil, err
	}
	return s.engine.LockReward(farmAddr, caller, slot)
}

type treasuryParams struct {
	Farm        string `json:"farm"`
	Caller      string `json:"caller"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

func (s *Server) handlePayoutFromTreasury(raw json.RawMessage) (interface{}, error) {
	var p treasuryParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, err := parseAddress("farm", p.Farm)
	if err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	destination, err := parseAddress("destination", p.Destination)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return s.engine.PayoutFromTreasury(farmAddr, caller, destination, amount)
}

type mintParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type mintResult struct {
	Token   string         `json:"token"`
	Address crypto.Address `json:"address"`
	Balance string         `json:"balance"`
}

// handleMint seeds token balances. It is intended for development and test
// networks; production deployments should gate it behind the bearer token.
func (s *Server) handleMint(raw json.RawMessage) (interface{}, error) {
	var p mintParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, invalidParamsf("token is required")
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.state.Mint(p.Token, addr, amount); err != nil {
		return nil, err
	}
	balance, err := s.state.BalanceOf(p.Token, addr)
	if err != nil {
		return nil, err
	}
	return &mintResult{Token: p.Token, Address: addr, Balance: balance.String()}, nil
}

type addressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleGetFarm(raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	f, err := s.state.GetFarm(addr)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: farm %s", errNotFound, p.Address)
	}
	return f, nil
}

func (s *Server) handleGetFarmer(raw json.RawMessage) (interface{}, error) {
	var p farmerParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	farmAddr, owner, err := p.addresses()
	if err != nil {
		return nil, err
	}
	farmer, err := s.state.GetFarmer(farmAddr, owner)
	if err != nil {
		return nil, err
	}
	if farmer == nil {
		return nil, fmt.Errorf("%w: farmer %s on farm %s", errNotFound, p.Owner, p.Farm)
	}
	return farmer, nil
}

func (s *Server) handleGetVault(raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	vault, err := s.state.GetVault(addr)
	if err != nil {
		return nil, err
	}
	if vault == nil {
		return nil, fmt.Errorf("%w: vault %s", errNotFound, p.Address)
	}
	return vault, nil
}

type balanceParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// Amounts in results travel as decimal strings, matching parseAmount on the
// request side.
type balanceResult struct {
	Token   string         `json:"token"`
	Address crypto.Address `json:"address"`
	Balance string         `json:"balance"`
}

func (s *Server) handleGetBalance(raw json.RawMessage) (interface{}, error) {
	var p balanceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Token == "" {
		return nil, invalidParamsf("token is required")
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	balance, err := s.state.BalanceOf(p.Token, addr)
	if err != nil {
		return nil, err
	}
	return &balanceResult{Token: p.Token, Address: addr, Balance: balance.String()}, nil
}
