// Package keeper identifies the operator key and produces signed audit
// records for every intervention it applies, so governance can verify who
// acted after the fact.
package keeper

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(hexKey string) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &Signer{privKey: key, address: addr}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Signature is the split 65-byte secp256k1 signature with the Ethereum
// recovery offset applied to V.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

func (s *Signer) SignRecord(record AuditRecord) (Signature, error) {
	digest, err := recordDigest(record)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return Signature{}, err
	}
	return signatureFromBytes(sig)
}

// RecoverSigner returns the address that produced a record signature.
func RecoverSigner(record AuditRecord, sig Signature) (common.Address, error) {
	digest, err := recordDigest(record)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := signatureToBytes(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func recordDigest(record AuditRecord) ([]byte, error) {
	payload, err := EncodeAuditRecord(record)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(payload), nil
}

func signatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != 65 {
		return Signature{}, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	r := hexutil.Encode(sig[:32])
	s := hexutil.Encode(sig[32:64])
	v := int(sig[64]) + 27
	return Signature{R: r, S: s, V: v}, nil
}

func signatureToBytes(sig Signature) ([]byte, error) {
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return nil, fmt.Errorf("decode r: %w", err)
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return nil, fmt.Errorf("decode s: %w", err)
	}
	if len(r) != 32 || len(s) != 32 {
		return nil, errors.New("signature components must be 32 bytes")
	}
	if sig.V != 27 && sig.V != 28 {
		return nil, fmt.Errorf("unexpected recovery id %d", sig.V)
	}
	raw := make([]byte, 65)
	copy(raw[:32], r)
	copy(raw[32:64], s)
	raw[64] = byte(sig.V - 27)
	return raw, nil
}
