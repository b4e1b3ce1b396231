package market

import (
	"CoffeeFutures/internal/coffee"
	"CoffeeFutures/internal/keys"
)

// MaxAssets caps the delivery basket size on a deal.
const MaxAssets = 4

// Deal is a bilateral contract between a farmer (short) and a buyer (long),
// identified by (market, farmer, buyer) through its derived address. The
// deal exclusively owns its vault authority, which in turn owns both margin
// vaults.
type Deal struct {
	Version uint8
	Address keys.Address
	Market  keys.Address

	// Parties
	Farmer      keys.Address
	Buyer       keys.Address
	Referrer    keys.Address
	FeeSplitBps uint16

	// Terms
	AgreedPricePerKg  uint64
	QuantityKg        uint64
	InitialMarginEach uint64
	PhysicalDelivery  bool
	DeadlineTS        int64

	// Margin bookkeeping
	FarmerDeposited bool
	BuyerDeposited  bool

	// Delivery
	AssetCount       uint8
	Assets           [MaxAssets]keys.Address
	AssetQty         [MaxAssets]uint64
	MerkleRoot       [32]byte
	DeliveredKgTotal uint64

	// Risk
	MarginCallTS       int64
	MarginCallGraceSec uint64

	// Flags
	Settled    bool
	Settling   bool // reentrancy guard: true only within one entrypoint
	Liquidated bool

	// Vault plumbing
	VaultAuth     keys.Address
	VaultAuthBump uint8
	FarmerVault   keys.Address
	BuyerVault    keys.Address
}

// BothDeposited reports whether both sides have posted initial margin.
func (d *Deal) BothDeposited() bool {
	return d.FarmerDeposited && d.BuyerDeposited
}

// HasMerkleRoot reports whether deliveries must carry a proof.
func (d *Deal) HasMerkleRoot() bool {
	return d.MerkleRoot != [32]byte{}
}

// BasketContains reports whether an asset appears in the delivery basket.
func (d *Deal) BasketContains(asset keys.Address) bool {
	for i := 0; i < int(d.AssetCount); i++ {
		if d.Assets[i] == asset {
			return true
		}
	}
	return false
}

// StartSettling arms the reentrancy guard. A nested settlement attempt while
// the guard is held fails Reentrancy.
func (d *Deal) StartSettling() error {
	if d.Settling {
		return coffee.Errf(coffee.CodeReentrancy, "deal %s is already settling", d.Address)
	}
	d.Settling = true
	return nil
}

// StopSettling releases the guard. Called on every exit path.
func (d *Deal) StopSettling() {
	d.Settling = false
}

// MarkSettled finalizes the deal and releases the guard.
func (d *Deal) MarkSettled() {
	d.Settled = true
	d.Settling = false
}

// IsCounterparty reports whether who is one of the two parties.
func (d *Deal) IsCounterparty(who keys.Address) bool {
	return who == d.Farmer || who == d.Buyer
}
