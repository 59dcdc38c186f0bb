package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature cannot be decoded or does
// not recover to a public key.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer produces EIP-191 personal_sign signatures, the format wallets
// produce for eth_sign / personal_sign.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the account controlled by the signer.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs msg with the EIP-191 prefix and returns the 65-byte
// signature as 0x-prefixed hex with v in {27,28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignRequest signs the canonical form of an HTTP request.
func (s *Signer) SignRequest(method, path string, unixTS int64, body []byte) (string, error) {
	return s.SignMessage(RequestMessage(method, path, unixTS, body))
}

// RequestMessage builds the text a caller signs to authenticate a request:
//
//	METHOD\nPATH\nUNIX_TS\nhex(sha256(body))
func RequestMessage(method, path string, unixTS int64, body []byte) []byte {
	digest := sha256.Sum256(body)
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" +
		strconv.FormatInt(unixTS, 10) + "\n" + hex.EncodeToString(digest[:]))
}

// RecoverAddress returns the account that produced sigHex over msg. Both
// v encodings, {0,1} and {27,28}, are accepted.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != 65 {
		return common.Address{}, ErrBadSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, ErrBadSignature
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
