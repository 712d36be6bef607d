package keeper

import (
	"fmt"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// InstanceID names this keeper process for lease ownership: an app-scoped hash of the
// machine id plus the pid, so two keepers on one host do not share a lease.
func InstanceID(app string) string {
	host, err := machineid.ProtectedID(app)
	if err != nil || host == "" {
		host, _ = os.Hostname()
	}
	if len(host) > 12 {
		host = host[:12]
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// ResolveAddress picks the keeper's fee-receiving address from a private key or, if
// none is set, a plain address.
func ResolveAddress(privateKeyHex, address string) (common.Address, error) {
	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return common.Address{}, fmt.Errorf("keeper private key: %w", err)
		}
		return crypto.PubkeyToAddress(key.PublicKey), nil
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("keeper address %q is not a hex address", address)
	}
	return common.HexToAddress(address), nil
}
