package host

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/danmuck/dps_queryloop/src/vmtypes"
)

const (
	AddressPrefix = "contract"
	AddressLen    = 20 // bytes of hash kept in an address
	moduleName    = "wasm"
)

// BuildContractAddress derives the address of the instanceID-th instance,
// which was created from codeID.
func BuildContractAddress(codeID CodeID, instanceID uint64) vmtypes.Address {
	contractID := make([]byte, 16)
	binary.BigEndian.PutUint64(contractID[:8], uint64(codeID))
	binary.BigEndian.PutUint64(contractID[8:], instanceID)

	hasher := sha256.New()
	hasher.Write([]byte(moduleName))
	hasher.Write([]byte{0})
	hasher.Write(contractID)
	sum := hasher.Sum(nil)

	return vmtypes.Address(AddressPrefix + hex.EncodeToString(sum[:AddressLen]))
}
