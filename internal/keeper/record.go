package keeper

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// AuditRecord is one intervention the keeper applied. Signing covers the
// msgpack encoding, so field order is fixed here rather than left to struct
// tag reflection.
type AuditRecord struct {
	Market           string
	Action           string
	FromState        string
	ToState          string
	OraclePrice      string
	DexPrice         string
	DeviationPercent string
	Nonce            uint64
	TimestampMS      int64
}

func EncodeAuditRecord(record AuditRecord) ([]byte, error) {
	if record.Market == "" {
		return nil, errors.New("record market is required")
	}
	if record.Action == "" {
		return nil, errors.New("record action is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(9); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("m"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.Market); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("a"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.Action); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("f"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.FromState); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("t"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.ToState); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("op"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.OraclePrice); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("dp"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.DexPrice); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("dev"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(record.DeviationPercent); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("n"); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint64(record.Nonce); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("ts"); err != nil {
		return nil, err
	}
	if err := enc.EncodeInt(record.TimestampMS); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeAuditRecord(data []byte) (AuditRecord, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return AuditRecord{}, err
	}
	var record AuditRecord
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return AuditRecord{}, err
		}
		switch key {
		case "m":
			record.Market, err = dec.DecodeString()
		case "a":
			record.Action, err = dec.DecodeString()
		case "f":
			record.FromState, err = dec.DecodeString()
		case "t":
			record.ToState, err = dec.DecodeString()
		case "op":
			record.OraclePrice, err = dec.DecodeString()
		case "dp":
			record.DexPrice, err = dec.DecodeString()
		case "dev":
			record.DeviationPercent, err = dec.DecodeString()
		case "n":
			record.Nonce, err = dec.DecodeUint64()
		case "ts":
			record.TimestampMS, err = dec.DecodeInt64()
		default:
			err = dec.Skip()
		}
		if err != nil {
			return AuditRecord{}, err
		}
	}
	return record, nil
}
