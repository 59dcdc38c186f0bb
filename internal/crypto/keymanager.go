// Package crypto loads the operator key and signs and verifies the
// EIP-191 request signatures that identify API callers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 2
)

var (
	// ErrNoKey is returned by LoadKey when no key source is configured.
	ErrNoKey = errors.New("crypto: no private key source configured")
	// ErrKeyMismatch means a key file decrypted to a different account
	// than the one recorded in it.
	ErrKeyMismatch = errors.New("crypto: key file address mismatch")
)

// keyFile is the on-disk format written by EncryptKey. Address is stored in
// the clear so operators can tell key files apart without the password.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the operator key comes from: a raw hex key, or a
// file written by EncryptKey plus its password.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM. The account address is bound into the ciphertext as
// additional data.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := keyCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), addr.Bytes())
	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    addr.Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
}

// DecryptKey opens a key file written by EncryptKey and returns the hex
// private key without 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if !common.IsHexAddress(kf.Address) {
		return "", fmt.Errorf("crypto: key file address %q is invalid", kf.Address)
	}
	addr := common.HexToAddress(kf.Address)

	var salt, nonce, sealed []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", kf.Salt, &salt},
		{"nonce", kf.Nonce, &nonce},
		{"ciphertext", kf.Ciphertext, &sealed},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := keyCipher(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, sealed, addr.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt key (wrong password?): %w", err)
	}

	pk, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypted key: %w", err)
	}
	if ethcrypto.PubkeyToAddress(pk.PublicKey) != addr {
		return "", ErrKeyMismatch
	}
	return hex.EncodeToString(plain), nil
}

func keyCipher(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// LoadKey resolves the hex private key. A raw key wins over the encrypted
// file.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	default:
		return "", ErrNoKey
	}
}

// LoadSigner resolves the key and wraps it in a Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex)
}
