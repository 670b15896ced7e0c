package ingestion

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"OptionLedger/internal/errs"
	"OptionLedger/internal/event"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature rejects a transaction whose signature does not recover to
// its sender.
var ErrBadSignature = errs.Auth("ingestion: signature does not match sender")

const signingDomain = "OptionLedger signed transaction\n"

// SignedTx is the wire envelope for live submissions: the transaction JSON
// and a 65-byte secp256k1 signature over SigningHash.
type SignedTx struct {
	Tx        json.RawMessage `json:"tx"`
	Signature hexutil.Bytes   `json:"signature"`
}

// SigningHash binds the signature to the transaction type and its exact bytes.
func SigningHash(eventType string, tx []byte) []byte {
	return crypto.Keccak256([]byte(signingDomain), []byte(eventType), []byte{0}, tx)
}

// Sign signs tx with key. The recovery id is returned in the 27/28 form
// wallets produce.
func Sign(eventType string, tx []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(SigningHash(eventType, tx), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// EncodeSigned marshals evt and wraps it in a signed envelope.
func EncodeSigned(eventType string, evt event.Event, key *ecdsa.PrivateKey) ([]byte, error) {
	tx, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(eventType, tx, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SignedTx{Tx: tx, Signature: sig})
}

// ParseSignedTx decodes a signed envelope and checks that the signature was
// made by the transaction's sender.
func ParseSignedTx(eventType string, data []byte) (event.Event, error) {
	var env SignedTx
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: parse signed %s: %v", ErrMalformed, eventType, err)
	}
	if len(env.Tx) == 0 {
		return nil, fmt.Errorf("%w: missing tx", ErrMalformed)
	}
	evt, err := ParseTx(eventType, env.Tx)
	if err != nil {
		return nil, err
	}
	if err := verifySender(eventType, env, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

func verifySender(eventType string, env SignedTx, evt event.Event) error {
	if len(env.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, crypto.SignatureLength)
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, env.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(SigningHash(eventType, env.Tx), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != evt.Sender() {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, signer.Hex())
	}
	return nil
}
