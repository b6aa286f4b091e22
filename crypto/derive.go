package crypto

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Derivation namespaces for the records the ledger addresses deterministically.
const (
	NamespaceFarm     = "gemfarm/farm"
	NamespaceBank     = "gemfarm/bank"
	NamespaceFarmer   = "gemfarm/farmer"
	NamespaceVault    = "gemfarm/vault"
	NamespacePot      = "gemfarm/pot"
	NamespaceTreasury = "gemfarm/treasury"
)

// DeriveAddress deterministically derives a 20-byte address from a namespace
// and an ordered list of seeds. The same inputs always yield the same address,
// so records can be re-addressed without loading their parents.
func DeriveAddress(namespace string, seeds ...[]byte) Address {
	payload := append([]byte(nil), namespace...)
	for _, seed := range seeds {
		payload = append(payload, seed...)
	}
	hash := ethcrypto.Keccak256(payload)
	return NewAddress(FarmPrefix, hash[12:])
}
