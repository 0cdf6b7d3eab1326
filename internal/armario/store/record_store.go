package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/BrandonDHaskell/Armario/internal/armario/types"
	"github.com/BrandonDHaskell/Armario/internal/codec"
)

const recordKeyPrefix = "u"

// RecordKey derives the KV key for a slot: slot 42 -> "u42".
func RecordKey(slot int) string {
	return recordKeyPrefix + strconv.Itoa(slot)
}

// recordBlob is the persisted layout. Integer keys keep blobs small.
type recordBlob struct {
	Name               string `cbor:"1,keyasint"`
	NationalID         string `cbor:"2,keyasint"`
	RegistrationNumber string `cbor:"3,keyasint"`
	Drawer             uint8  `cbor:"4,keyasint"`
}

// RecordStore persists UserRecords by slot on top of a KV.
type RecordStore struct {
	kv KV
}

func NewRecordStore(kv KV) *RecordStore {
	return &RecordStore{kv: kv}
}

// Load returns ErrNotFound for a missing record and ErrCorruptRecord for one
// that cannot be decoded or fails validation.
func (s *RecordStore) Load(ctx context.Context, slot int) (types.UserRecord, error) {
	b, err := s.kv.Get(ctx, RecordKey(slot))
	if err != nil {
		return types.UserRecord{}, err
	}

	var blob recordBlob
	if err := codec.Unmarshal(b, &blob); err != nil {
		return types.UserRecord{}, fmt.Errorf("%w: slot %d: %v", ErrCorruptRecord, slot, err)
	}

	rec := types.UserRecord{
		Name:               blob.Name,
		NationalID:         blob.NationalID,
		RegistrationNumber: blob.RegistrationNumber,
		Drawer:             types.Drawer(blob.Drawer),
	}
	if err := rec.Validate(); err != nil {
		return types.UserRecord{}, fmt.Errorf("%w: slot %d: %v", ErrCorruptRecord, slot, err)
	}
	return rec, nil
}

func (s *RecordStore) Save(ctx context.Context, slot int, rec types.UserRecord) error {
	b, err := EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("Save encode slot %d: %w", slot, err)
	}
	if err := s.kv.Put(ctx, RecordKey(slot), b); err != nil {
		return fmt.Errorf("Save slot %d: %w", slot, err)
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, slot int) error {
	if err := s.kv.Delete(ctx, RecordKey(slot)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("Delete slot %d: %w", slot, err)
	}
	return nil
}

// EncodeRecord returns the blob Save would write. Used for dev seeding.
func EncodeRecord(rec types.UserRecord) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(recordBlob{
		Name:               rec.Name,
		NationalID:         rec.NationalID,
		RegistrationNumber: rec.RegistrationNumber,
		Drawer:             uint8(rec.Drawer),
	})
}
