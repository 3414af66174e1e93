package keeper

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testRecord() AuditRecord {
	return AuditRecord{
		Market:           "0x00000000000000000000000000000000000000B1",
		Action:           "pause_borrow",
		FromState:        "NORMAL",
		ToState:          "BORROW_PAUSED",
		OraclePrice:      "2000000000000000000000",
		DexPrice:         "2200000000000000000000",
		DeviationPercent: "10",
		Nonce:            7,
		TimestampMS:      1_755_000_000_000,
	}
}

func TestNewSigner(t *testing.T) {
	signer, err := NewSigner("0x" + testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Fatalf("expected non-zero signer address")
	}
	if _, err := NewSigner(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewSigner("not-hex"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestSignAndRecoverRecord(t *testing.T) {
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	record := testRecord()
	sig, err := signer.SignRecord(record)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Fatalf("expected recovery id 27 or 28, got %d", sig.V)
	}
	recovered, err := RecoverSigner(record, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("expected recovered %s, got %s", signer.Address().Hex(), recovered.Hex())
	}
}

func TestRecoverRejectsTamperedRecord(t *testing.T) {
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	record := testRecord()
	sig, err := signer.SignRecord(record)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	record.Action = "zero_collateral"
	recovered, err := RecoverSigner(record, sig)
	if err == nil && recovered == signer.Address() {
		t.Fatalf("expected tampered record not to verify against the signer")
	}
}

func TestRecoverRejectsBadSignature(t *testing.T) {
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	record := testRecord()
	sig, err := signer.SignRecord(record)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bad := sig
	bad.V = 29
	if _, err := RecoverSigner(record, bad); err == nil {
		t.Fatalf("expected error for recovery id 29")
	}
	bad = sig
	bad.R = "0x01"
	if _, err := RecoverSigner(record, bad); err == nil {
		t.Fatalf("expected error for short r component")
	}
}

func TestEncodeDecodeAuditRecord(t *testing.T) {
	record := testRecord()
	payload, err := EncodeAuditRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeAuditRecord(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != record {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, record)
	}
}

func TestEncodeAuditRecordRequiresFields(t *testing.T) {
	record := testRecord()
	record.Market = ""
	if _, err := EncodeAuditRecord(record); err == nil {
		t.Fatalf("expected error for missing market")
	}
	record = testRecord()
	record.Action = ""
	if _, err := EncodeAuditRecord(record); err == nil {
		t.Fatalf("expected error for missing action")
	}
}

func TestEncodingIsByteStable(t *testing.T) {
	record := testRecord()
	a, err := EncodeAuditRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := EncodeAuditRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic encoding")
	}
}
