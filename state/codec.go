package state

import (
	"fmt"
	"math/big"
	"sort"

	"gemfarm/core/types"
	"gemfarm/crypto"
	"gemfarm/native/farm"
)

// The stored* mirrors keep the RLP wire layout independent of the in-memory
// types: addresses flatten to (prefix, payload) pairs and balance maps to
// sorted slices.

type storedAddress struct {
	Prefix string
	Bytes  []byte
}

func newStoredAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Bytes: addr.Bytes()}
}

func (s storedAddress) toAddress() (crypto.Address, error) {
	if len(s.Bytes) != 20 {
		return crypto.Address{}, fmt.Errorf("stored address must be 20 bytes, got %d", len(s.Bytes))
	}
	return crypto.MustNewAddress(crypto.AddressPrefix(s.Prefix), s.Bytes), nil
}

type storedFixedPeriod struct {
	Rate        *big.Int
	DurationSec uint64
}

type storedVariableModel struct {
	RewardRate          *big.Int
	RewardLastUpdatedTs uint64
	AccruedRewardPerGem *big.Int
}

type storedFixedModel struct {
	Schedule          []storedFixedPeriod
	ScheduleStartTs   uint64
	GemsFunded        uint64
	GemsParticipating uint64
	GemsMadeWhole     *big.Int
	Reserved          *big.Int
	LastUpdatedTs     uint64
}

type storedTrack struct {
	Kind                  uint8
	Token                 string
	Pot                   storedAddress
	TotalFunded           *big.Int
	TotalRefunded         *big.Int
	TotalAccruedToStakers *big.Int
	DurationSec           uint64
	RewardEndTs           uint64
	LockEndTs             uint64
	Variable              *storedVariableModel `rlp:"nil"`
	Fixed                 *storedFixedModel    `rlp:"nil"`
}

type storedFarm struct {
	Address           storedAddress
	Manager           storedAddress
	Bank              storedAddress
	Treasury          storedAddress
	GemToken          string
	FeeToken          string
	Tracks            []storedTrack
	Funders           []storedAddress
	GemsStaked        uint64
	StakedFarmerCount uint64
	CooldownPeriodSec uint64
	UnstakingFee      *big.Int
}

func newStoredTrack(t *farm.RewardTrack) storedTrack {
	stored := storedTrack{
		Kind:                  uint8(t.Kind),
		Token:                 t.Token,
		Pot:                   newStoredAddress(t.Pot),
		TotalFunded:           t.Funds.TotalFunded,
		TotalRefunded:         t.Funds.TotalRefunded,
		TotalAccruedToStakers: t.Funds.TotalAccruedToStakers,
		DurationSec:           t.Times.DurationSec,
		RewardEndTs:           t.Times.RewardEndTs,
		LockEndTs:             t.Times.LockEndTs,
	}
	if t.Variable != nil {
		stored.Variable = &storedVariableModel{
			RewardRate:          t.Variable.RewardRate,
			RewardLastUpdatedTs: t.Variable.RewardLastUpdatedTs,
			AccruedRewardPerGem: t.Variable.AccruedRewardPerGem,
		}
	}
	if t.Fixed != nil {
		fixed := &storedFixedModel{
			ScheduleStartTs:   t.Fixed.ScheduleStartTs,
			GemsFunded:        t.Fixed.GemsFunded,
			GemsParticipating: t.Fixed.GemsParticipating,
			GemsMadeWhole:     t.Fixed.GemsMadeWhole,
			Reserved:          t.Fixed.Reserved,
			LastUpdatedTs:     t.Fixed.LastUpdatedTs,
		}
		for _, p := range t.Fixed.Schedule {
			fixed.Schedule = append(fixed.Schedule, storedFixedPeriod{Rate: p.Rate, DurationSec: p.DurationSec})
		}
		stored.Fixed = fixed
	}
	return stored
}

func (s storedTrack) toTrack() (farm.RewardTrack, error) {
	pot, err := s.Pot.toAddress()
	if err != nil {
		return farm.RewardTrack{}, err
	}
	track := farm.RewardTrack{
		Kind:  farm.RewardKind(s.Kind),
		Token: s.Token,
		Pot:   pot,
		Funds: farm.TrackFunds{
			TotalFunded:           normBig(s.TotalFunded),
			TotalRefunded:         normBig(s.TotalRefunded),
			TotalAccruedToStakers: normBig(s.TotalAccruedToStakers),
		},
		Times: farm.TrackTimes{
			DurationSec: s.DurationSec,
			RewardEndTs: s.RewardEndTs,
			LockEndTs:   s.LockEndTs,
		},
	}
	if s.Variable != nil {
		track.Variable = &farm.VariableRateModel{
			RewardRate:          normBig(s.Variable.RewardRate),
			RewardLastUpdatedTs: s.Variable.RewardLastUpdatedTs,
			AccruedRewardPerGem: normBig(s.Variable.AccruedRewardPerGem),
		}
	}
	if s.Fixed != nil {
		fixed := &farm.FixedRateModel{
			ScheduleStartTs:   s.Fixed.ScheduleStartTs,
			GemsFunded:        s.Fixed.GemsFunded,
			GemsParticipating: s.Fixed.GemsParticipating,
			GemsMadeWhole:     normBig(s.Fixed.GemsMadeWhole),
			Reserved:          normBig(s.Fixed.Reserved),
			LastUpdatedTs:     s.Fixed.LastUpdatedTs,
		}
		for _, p := range s.Fixed.Schedule {
			fixed.Schedule = append(fixed.Schedule, farm.FixedPeriod{Rate: normBig(p.Rate), DurationSec: p.DurationSec})
		}
		track.Fixed = fixed
	}
	return track, nil
}

func newStoredFarm(f *farm.Farm) *storedFarm {
	stored := &storedFarm{
		Address:           newStoredAddress(f.Address),
		Manager:           newStoredAddress(f.Manager),
		Bank:              newStoredAddress(f.Bank),
		Treasury:          newStoredAddress(f.Treasury),
		GemToken:          f.GemToken,
		FeeToken:          f.FeeToken,
		GemsStaked:        f.GemsStaked,
		StakedFarmerCount: f.StakedFarmerCount,
		CooldownPeriodSec: f.CooldownPeriodSec,
		UnstakingFee:      f.UnstakingFee,
	}
	for i := range f.Tracks {
		stored.Tracks = append(stored.Tracks, newStoredTrack(&f.Tracks[i]))
	}
	for _, funder := range f.Funders {
		stored.Funders = append(stored.Funders, newStoredAddress(funder))
	}
	return stored
}

func (s *storedFarm) toFarm() (*farm.Farm, error) {
	address, err := s.Address.toAddress()
	if err != nil {
		return nil, err
	}
	manager, err := s.Manager.toAddress()
	if err != nil {
		return nil, err
	}
	bank, err := s.Bank.toAddress()
	if err != nil {
		return nil, err
	}
	treasury, err := s.Treasury.toAddress()
	if err != nil {
		return nil, err
	}
	f := &farm.Farm{
		Address:           address,
		Manager:           manager,
		Bank:              bank,
		Treasury:          treasury,
		GemToken:          s.GemToken,
		FeeToken:          s.FeeToken,
		GemsStaked:        s.GemsStaked,
		StakedFarmerCount: s.StakedFarmerCount,
		CooldownPeriodSec: s.CooldownPeriodSec,
		UnstakingFee:      normBig(s.UnstakingFee),
	}
	if len(s.Tracks) != len(f.Tracks) {
		return nil, fmt.Errorf("stored farm has %d tracks, want %d", len(s.Tracks), len(f.Tracks))
	}
	for i, stored := range s.Tracks {
		track, err := stored.toTrack()
		if err != nil {
			return nil, err
		}
		f.Tracks[i] = track
	}
	for _, stored := range s.Funders {
		funder, err := stored.toAddress()
		if err != nil {
			return nil, err
		}
		f.Funders = append(f.Funders, funder)
	}
	return f, nil
}

type storedRewardState struct {
	PaidOutReward                   *big.Int
	AccruedReward                   *big.Int
	LastRecordedAccruedRewardPerGem *big.Int
	RewardWhole                     bool
	GemsWhole                       uint64
	ReservedReward                  *big.Int
}

type storedFarmer struct {
	Farm           storedAddress
	Owner          storedAddress
	Vault          storedAddress
	GemsStaked     uint64
	BeginStakingTs uint64
	CooldownEndsTs uint64
	Rewards        []storedRewardState
}

func newStoredFarmer(f *farm.Farmer) *storedFarmer {
	stored := &storedFarmer{
		Farm:           newStoredAddress(f.Farm),
		Owner:          newStoredAddress(f.Owner),
		Vault:          newStoredAddress(f.Vault),
		GemsStaked:     f.GemsStaked,
		BeginStakingTs: f.BeginStakingTs,
		CooldownEndsTs: f.CooldownEndsTs,
	}
	for i := range f.Rewards {
		stored.Rewards = append(stored.Rewards, storedRewardState{
			PaidOutReward:                   f.Rewards[i].PaidOutReward,
			AccruedReward:                   f.Rewards[i].AccruedReward,
			LastRecordedAccruedRewardPerGem: f.Rewards[i].LastRecordedAccruedRewardPerGem,
			RewardWhole:                     f.Rewards[i].RewardWhole,
			GemsWhole:                       f.Rewards[i].GemsWhole,
			ReservedReward:                  f.Rewards[i].ReservedReward,
		})
	}
	return stored
}

func (s *storedFarmer) toFarmer() (*farm.Farmer, error) {
	farmAddr, err := s.Farm.toAddress()
	if err != nil {
		return nil, err
	}
	owner, err := s.Owner.toAddress()
	if err != nil {
		return nil, err
	}
	vault, err := s.Vault.toAddress()
	if err != nil {
		return nil, err
	}
	f := &farm.Farmer{
		Farm:           farmAddr,
		Owner:          owner,
		Vault:          vault,
		GemsStaked:     s.GemsStaked,
		BeginStakingTs: s.BeginStakingTs,
		CooldownEndsTs: s.CooldownEndsTs,
	}
	if len(s.Rewards) != len(f.Rewards) {
		return nil, fmt.Errorf("stored farmer has %d reward states, want %d", len(s.Rewards), len(f.Rewards))
	}
	for i, stored := range s.Rewards {
		f.Rewards[i] = farm.FarmerRewardState{
			PaidOutReward:                   normBig(stored.PaidOutReward),
			AccruedReward:                   normBig(stored.AccruedReward),
			LastRecordedAccruedRewardPerGem: normBig(stored.LastRecordedAccruedRewardPerGem),
			RewardWhole:                     stored.RewardWhole,
			GemsWhole:                       stored.GemsWhole,
			ReservedReward:                  normBig(stored.ReservedReward),
		}
	}
	return f, nil
}

type storedVault struct {
	Address  storedAddress
	Farm     storedAddress
	Owner    storedAddress
	GemCount uint64
	Locked   bool
}

func newStoredVault(v *farm.Vault) *storedVault {
	return &storedVault{
		Address:  newStoredAddress(v.Address),
		Farm:     newStoredAddress(v.Farm),
		Owner:    newStoredAddress(v.Owner),
		GemCount: v.GemCount,
		Locked:   v.Locked,
	}
}

func (s *storedVault) toVault() (*farm.Vault, error) {
	address, err := s.Address.toAddress()
	if err != nil {
		return nil, err
	}
	farmAddr, err := s.Farm.toAddress()
	if err != nil {
		return nil, err
	}
	owner, err := s.Owner.toAddress()
	if err != nil {
		return nil, err
	}
	return &farm.Vault{
		Address:  address,
		Farm:     farmAddr,
		Owner:    owner,
		GemCount: s.GemCount,
		Locked:   s.Locked,
	}, nil
}

type storedBalance struct {
	Token  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

func newStoredAccount(a *types.Account) *storedAccount {
	stored := &storedAccount{Nonce: a.Nonce}
	tokens := make([]string, 0, len(a.Balances))
	for token := range a.Balances {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		stored.Balances = append(stored.Balances, storedBalance{Token: token, Amount: a.Balances[token]})
	}
	return stored
}

func (s *storedAccount) toAccount() *types.Account {
	account := types.NewAccount()
	account.Nonce = s.Nonce
	for _, balance := range s.Balances {
		account.SetBalance(balance.Token, normBig(balance.Amount))
	}
	return account
}

func normBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
