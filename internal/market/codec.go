package market

import (
	"encoding/binary"
	"fmt"

	"CoffeeFutures/internal/keys"
)

// Binary record codec: fixed field order, little-endian integers, 32-byte
// addresses, 1-byte booleans. Variable-length fields are length-prefixed and
// bounded by MaxAssets. The same bytes feed snapshots and the state digest,
// so the encoding must stay byte-stable across versions (bump ProgramVersion
// to change it).

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) boolean(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}
func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *encoder) i64(v int64) { e.u64(uint64(v)) }
func (e *encoder) addr(a keys.Address) {
	e.buf = append(e.buf, a[:]...)
}
func (e *encoder) hash(h [32]byte) {
	e.buf = append(e.buf, h[:]...)
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("record truncated at offset %d (need %d of %d)", d.off, n, len(d.buf))
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) boolean() bool {
	return d.u8() != 0
}

func (d *decoder) u16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) addr() keys.Address {
	var a keys.Address
	if !d.need(32) {
		return a
	}
	copy(a[:], d.buf[d.off:])
	d.off += 32
	return a
}

func (d *decoder) hash() [32]byte {
	var h [32]byte
	if !d.need(32) {
		return h
	}
	copy(h[:], d.buf[d.off:])
	d.off += 32
	return h
}

// EncodeMarket serializes a market record.
func EncodeMarket(m *Market) []byte {
	e := &encoder{buf: make([]byte, 0, 384)}
	e.u8(m.Version)
	e.addr(m.Address)
	e.addr(m.Authority)
	e.addr(m.Verifier)
	e.addr(m.OraclePublisher)
	e.addr(m.PendingOracle)
	e.i64(m.PendingOracleEffectiveTS)
	e.addr(m.CftMint)
	e.addr(m.QuoteMint)
	e.addr(m.InsuranceTreasury)
	e.i64(m.SettlementTS)
	e.u64(m.ContractSizeKg)
	e.u16(m.InitialMarginBps)
	e.u16(m.MaintenanceMarginBps)
	e.u16(m.FeeBps)
	e.u16(m.FarmerFeeBps)
	e.u16(m.BuyerFeeBps)
	e.u16(m.InsuranceBps)
	e.u64(m.DefaultMarginCallGraceSec)
	e.u64(m.MaxNotionalPerDeal)
	e.u64(m.MaxQtyPerDeal)
	e.u64(m.LastPricePerKg)
	e.u64(m.PrevPricePerKg)
	e.u64(m.LastPriceNonce)
	e.i64(m.LastOracleUpdateTS)
	e.u64(m.MaxOracleAgeSec)
	e.u64(m.TwapAcc)
	e.u64(m.TwapTimeAcc)
	e.u64(m.TwapWindowSec)
	e.u8(uint8(m.PriceMode))
	e.boolean(m.Paused)
	e.u64(m.MinTransferAmount)
	e.u8(m.ProgramVersion)
	return e.buf
}

// DecodeMarket deserializes a market record.
func DecodeMarket(data []byte) (*Market, error) {
	d := &decoder{buf: data}
	m := &Market{}
	m.Version = d.u8()
	m.Address = d.addr()
	m.Authority = d.addr()
	m.Verifier = d.addr()
	m.OraclePublisher = d.addr()
	m.PendingOracle = d.addr()
	m.PendingOracleEffectiveTS = d.i64()
	m.CftMint = d.addr()
	m.QuoteMint = d.addr()
	m.InsuranceTreasury = d.addr()
	m.SettlementTS = d.i64()
	m.ContractSizeKg = d.u64()
	m.InitialMarginBps = d.u16()
	m.MaintenanceMarginBps = d.u16()
	m.FeeBps = d.u16()
	m.FarmerFeeBps = d.u16()
	m.BuyerFeeBps = d.u16()
	m.InsuranceBps = d.u16()
	m.DefaultMarginCallGraceSec = d.u64()
	m.MaxNotionalPerDeal = d.u64()
	m.MaxQtyPerDeal = d.u64()
	m.LastPricePerKg = d.u64()
	m.PrevPricePerKg = d.u64()
	m.LastPriceNonce = d.u64()
	m.LastOracleUpdateTS = d.i64()
	m.MaxOracleAgeSec = d.u64()
	m.TwapAcc = d.u64()
	m.TwapTimeAcc = d.u64()
	m.TwapWindowSec = d.u64()
	m.PriceMode = PriceMode(d.u8())
	m.Paused = d.boolean()
	m.MinTransferAmount = d.u64()
	m.ProgramVersion = d.u8()
	if d.err != nil {
		return nil, fmt.Errorf("decode market: %w", d.err)
	}
	return m, nil
}

// EncodeDeal serializes a deal record. The asset basket is written
// length-prefixed: AssetCount, then that many (address, qty) pairs.
func EncodeDeal(dl *Deal) []byte {
	e := &encoder{buf: make([]byte, 0, 512)}
	e.u8(dl.Version)
	e.addr(dl.Address)
	e.addr(dl.Market)
	e.addr(dl.Farmer)
	e.addr(dl.Buyer)
	e.addr(dl.Referrer)
	e.u16(dl.FeeSplitBps)
	e.u64(dl.AgreedPricePerKg)
	e.u64(dl.QuantityKg)
	e.u64(dl.InitialMarginEach)
	e.boolean(dl.PhysicalDelivery)
	e.i64(dl.DeadlineTS)
	e.boolean(dl.FarmerDeposited)
	e.boolean(dl.BuyerDeposited)
	e.u8(dl.AssetCount)
	for i := 0; i < int(dl.AssetCount); i++ {
		e.addr(dl.Assets[i])
		e.u64(dl.AssetQty[i])
	}
	e.hash(dl.MerkleRoot)
	e.u64(dl.DeliveredKgTotal)
	e.i64(dl.MarginCallTS)
	e.u64(dl.MarginCallGraceSec)
	e.boolean(dl.Settled)
	e.boolean(dl.Settling)
	e.boolean(dl.Liquidated)
	e.addr(dl.VaultAuth)
	e.u8(dl.VaultAuthBump)
	e.addr(dl.FarmerVault)
	e.addr(dl.BuyerVault)
	return e.buf
}

// DecodeDeal deserializes a deal record.
func DecodeDeal(data []byte) (*Deal, error) {
	d := &decoder{buf: data}
	dl := &Deal{}
	dl.Version = d.u8()
	dl.Address = d.addr()
	dl.Market = d.addr()
	dl.Farmer = d.addr()
	dl.Buyer = d.addr()
	dl.Referrer = d.addr()
	dl.FeeSplitBps = d.u16()
	dl.AgreedPricePerKg = d.u64()
	dl.QuantityKg = d.u64()
	dl.InitialMarginEach = d.u64()
	dl.PhysicalDelivery = d.boolean()
	dl.DeadlineTS = d.i64()
	dl.FarmerDeposited = d.boolean()
	dl.BuyerDeposited = d.boolean()
	dl.AssetCount = d.u8()
	if dl.AssetCount > MaxAssets {
		return nil, fmt.Errorf("decode deal: asset count %d exceeds %d", dl.AssetCount, MaxAssets)
	}
	for i := 0; i < int(dl.AssetCount); i++ {
		dl.Assets[i] = d.addr()
		dl.AssetQty[i] = d.u64()
	}
	dl.MerkleRoot = d.hash()
	dl.DeliveredKgTotal = d.u64()
	dl.MarginCallTS = d.i64()
	dl.MarginCallGraceSec = d.u64()
	dl.Settled = d.boolean()
	dl.Settling = d.boolean()
	dl.Liquidated = d.boolean()
	dl.VaultAuth = d.addr()
	dl.VaultAuthBump = d.u8()
	dl.FarmerVault = d.addr()
	dl.BuyerVault = d.addr()
	if d.err != nil {
		return nil, fmt.Errorf("decode deal: %w", d.err)
	}
	return dl, nil
}
