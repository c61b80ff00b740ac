package types

import (
	"fmt"
	"time"

	"github.com/gogo/protobuf/proto"
)

// Records are stored as a fixed sequence of protobuf wire primitives
// (varints and length-prefixed bytes). The order of fields is the schema.

type encoder struct {
	buf *proto.Buffer
	err error
}

func newEncoder() *encoder {
	return &encoder{buf: proto.NewBuffer(nil)}
}

func (e *encoder) varint(v uint64) {
	if e.err == nil {
		e.err = e.buf.EncodeVarint(v)
	}
}

func (e *encoder) raw(bz []byte) {
	if e.err == nil {
		e.err = e.buf.EncodeRawBytes(bz)
	}
}

func (e *encoder) bool(v bool) {
	if v {
		e.varint(1)
	} else {
		e.varint(0)
	}
}

func (e *encoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Bytes(), nil
}

type decoder struct {
	buf *proto.Buffer
	err error
}

func newDecoder(bz []byte) *decoder {
	return &decoder{buf: proto.NewBuffer(bz)}
}

func (d *decoder) varint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.DecodeVarint()
	d.err = err
	return v
}

func (d *decoder) raw() []byte {
	if d.err != nil {
		return nil
	}
	bz, err := d.buf.DecodeRawBytes(true)
	d.err = err
	return bz
}

func (d *decoder) bool() bool { return d.varint() != 0 }

func (d *decoder) hash() Hash {
	bz := d.raw()
	if d.err != nil {
		return Hash{}
	}
	h, err := HashFromBytes(bz)
	d.err = err
	return h
}

func (d *decoder) account() Account { return d.hash().AsAccount() }

func (d *decoder) amount() Amount {
	bz := d.raw()
	if d.err != nil {
		return Amount{}
	}
	a, err := AmountFromBytes(bz)
	d.err = err
	return a
}

func (d *decoder) time() time.Time {
	v := d.varint()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0).UTC()
}

func encodeTime(e *encoder, t time.Time) {
	if t.IsZero() {
		e.varint(0)
		return
	}
	e.varint(uint64(t.Unix()))
}

// MarshalBlock encodes a block with its sideband, if any.
func MarshalBlock(b *Block) ([]byte, error) {
	e := newEncoder()
	e.varint(uint64(b.blockType))
	e.raw(b.account[:])
	e.raw(b.previous[:])
	e.raw(b.representative[:])
	e.raw(b.balance.Bytes())
	e.raw(b.link[:])
	e.raw(b.source[:])
	e.raw(b.destination[:])
	e.raw(b.signature)
	e.varint(b.work)
	e.bool(b.sideband != nil)
	if sb := b.sideband; sb != nil {
		e.varint(sb.Height)
		e.raw(sb.Account[:])
		e.raw(sb.Balance.Bytes())
		e.raw(sb.Successor[:])
		encodeTime(e, sb.Timestamp)
		e.bool(sb.Details.IsSend)
		e.bool(sb.Details.IsReceive)
		e.bool(sb.Details.IsEpoch)
	}
	return e.bytes()
}

// UnmarshalBlock decodes a block produced by MarshalBlock and recomputes its hash.
func UnmarshalBlock(bz []byte) (*Block, error) {
	d := newDecoder(bz)
	b := &Block{blockType: BlockType(d.varint())}
	b.account = d.account()
	b.previous = d.hash()
	b.representative = d.account()
	b.balance = d.amount()
	b.link = d.hash()
	b.source = d.hash()
	b.destination = d.account()
	b.signature = d.raw()
	b.work = d.varint()
	if d.bool() {
		sb := &Sideband{}
		sb.Height = d.varint()
		sb.Account = d.account()
		sb.Balance = d.amount()
		sb.Successor = d.hash()
		sb.Timestamp = d.time()
		sb.Details.IsSend = d.bool()
		sb.Details.IsReceive = d.bool()
		sb.Details.IsEpoch = d.bool()
		b.sideband = sb
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding block: %w", d.err)
	}
	if b.blockType == BlockTypeInvalid || b.blockType > BlockTypeState {
		return nil, fmt.Errorf("decoding block: unknown type %d", b.blockType)
	}
	b.hash = b.computeHash()
	return b, nil
}

func MarshalAccountInfo(info AccountInfo) ([]byte, error) {
	e := newEncoder()
	e.raw(info.Head[:])
	e.raw(info.Representative[:])
	e.raw(info.Open[:])
	e.raw(info.Balance.Bytes())
	encodeTime(e, info.Modified)
	e.varint(info.BlockCount)
	return e.bytes()
}

func UnmarshalAccountInfo(bz []byte) (AccountInfo, error) {
	d := newDecoder(bz)
	info := AccountInfo{
		Head:           d.hash(),
		Representative: d.account(),
		Open:           d.hash(),
		Balance:        d.amount(),
		Modified:       d.time(),
		BlockCount:     d.varint(),
	}
	if d.err != nil {
		return AccountInfo{}, fmt.Errorf("decoding account info: %w", d.err)
	}
	return info, nil
}

func MarshalPendingInfo(info PendingInfo) ([]byte, error) {
	e := newEncoder()
	e.raw(info.Source[:])
	e.raw(info.Amount.Bytes())
	return e.bytes()
}

func UnmarshalPendingInfo(bz []byte) (PendingInfo, error) {
	d := newDecoder(bz)
	info := PendingInfo{
		Source: d.account(),
		Amount: d.amount(),
	}
	if d.err != nil {
		return PendingInfo{}, fmt.Errorf("decoding pending info: %w", d.err)
	}
	return info, nil
}

// MarshalConfirmationHeight encodes {height, 32 byte frontier}.
func MarshalConfirmationHeight(info ConfirmationHeightInfo) ([]byte, error) {
	e := newEncoder()
	e.varint(info.Height)
	e.raw(info.Frontier[:])
	return e.bytes()
}

func UnmarshalConfirmationHeight(bz []byte) (ConfirmationHeightInfo, error) {
	d := newDecoder(bz)
	info := ConfirmationHeightInfo{
		Height:   d.varint(),
		Frontier: d.hash(),
	}
	if d.err != nil {
		return ConfirmationHeightInfo{}, fmt.Errorf("decoding confirmation height: %w", d.err)
	}
	return info, nil
}
