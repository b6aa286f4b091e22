package farm

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role or funder
	// membership an operation requires.
	ErrUnauthorized = errors.New("farm: unauthorized")
	// ErrVaultLocked is returned when a vault in cooldown rejects staking or
	// balance mutations.
	ErrVaultLocked = errors.New("farm: vault locked")
	// ErrNothingStaked is returned when unstake is called with no staked gems
	// and no pending cooldown.
	ErrNothingStaked = errors.New("farm: nothing staked")
	// ErrRewardLocked is returned when funding operations touch a locked track.
	ErrRewardLocked = errors.New("farm: reward locked")
	// ErrFundingMismatch is returned when a fixed schedule is funded with an
	// amount different from its promised total.
	ErrFundingMismatch = errors.New("farm: funding mismatch")
	// ErrInsufficientPotBalance signals that a reward pot cannot cover a
	// promised payout. With intact funding invariants it never fires, so it is
	// treated as a consistency failure rather than a retryable condition.
	ErrInsufficientPotBalance = errors.New("farm: insufficient pot balance")
	// ErrWindowExpired is returned when a time-gated operation runs outside
	// its window, e.g. a second unstake before the cooldown elapsed.
	ErrWindowExpired = errors.New("farm: window expired")
	// ErrFarmExists is returned when initFarm targets an address already in use.
	ErrFarmExists = errors.New("farm: farm already exists")
	// ErrFarmerExists is returned when initFarmer runs twice for one identity.
	ErrFarmerExists = errors.New("farm: farmer already exists")
	// ErrInsufficientGems is returned when a vault holds fewer free gems than
	// an operation needs.
	ErrInsufficientGems = errors.New("farm: insufficient gems in vault")
	// ErrFarmNotFound is returned when an operation targets an unknown farm.
	ErrFarmNotFound = errors.New("farm: farm not found")
	// ErrFarmerNotFound is returned when an operation targets an identity
	// without a farmer record on the farm.
	ErrFarmerNotFound = errors.New("farm: farmer not found")
	// ErrVaultNotFound is returned when an operation targets an unknown vault.
	ErrVaultNotFound = errors.New("farm: vault not found")

	errNilState      = errors.New("farm engine: state not configured")
	errInvalidAmount = errors.New("farm engine: amount must be positive")
)
