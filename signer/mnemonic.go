package signer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChainSafe/go-schnorrkel"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/tyler-smith/go-bip39"
)

const (
	// MnemonicEntropyBits gives 12 word phrases.
	MnemonicEntropyBits = 128
	seedLength          = 32
)

var ErrInvalidSecret = errors.New("invalid secret: expected a mnemonic or a 0x prefixed 32 byte seed")

// GenerateMnemonic returns a new random BIP-39 phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(normalizeMnemonic(mnemonic))
}

// MiniSeed derives the 32 byte mini secret used by every scheme. Mnemonics use
// the Substrate derivation (PBKDF2 over the phrase entropy), hex seeds are
// taken as is.
func MiniSeed(secret string) ([seedLength]byte, error) {
	var seed [seedLength]byte

	secret = strings.TrimSpace(secret)
	if strings.HasPrefix(secret, "0x") {
		raw, err := hexutil.Decode(secret)
		if err != nil || len(raw) != seedLength {
			return seed, ErrInvalidSecret
		}

		copy(seed[:], raw)

		return seed, nil
	}

	mnemonic := normalizeMnemonic(secret)
	if !bip39.IsMnemonicValid(mnemonic) {
		return seed, ErrInvalidSecret
	}

	full, err := schnorrkel.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return seed, fmt.Errorf("failed to derive seed from mnemonic: %w", err)
	}

	copy(seed[:], full[:seedLength])

	return seed, nil
}

func normalizeMnemonic(m string) string {
	return strings.Join(strings.Fields(m), " ")
}
