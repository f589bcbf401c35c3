// Package threshold drives the threshold-decryption network.
//
// The network's internal consensus is out of scope; this package owns the
// client contract: encrypt bytes under an access policy, and decrypt them
// again only when the network's own evaluation of the on-chain predicate
// passes for the wallet presenting the session proof.
package threshold

import (
	"context"

	"consentis/internal/policy"
)

// EncryptResult carries the sealed blob and the plaintext digest the network
// binds the policy to. The digest must be presented again at decrypt time.
type EncryptResult struct {
	Ciphertext []byte
	Digest     string
}

// DecryptRequest bundles everything the network needs to release plaintext.
type DecryptRequest struct {
	Ciphertext []byte
	Digest     string
	Conditions []policy.AccessCondition
	Proof      string
}

// Network is one live connection to the decryption network.
// Error Contract:
// - Decrypt returns authorization_denied when the predicate evaluates false
//   or the session proof is rejected; the network's message is preserved
// - both calls return transport_error on connectivity failures
type Network interface {
	Encrypt(ctx context.Context, data []byte, conditions []policy.AccessCondition) (*EncryptResult, error)
	Decrypt(ctx context.Context, req DecryptRequest) ([]byte, error)
	Ready() bool
	Disconnect(ctx context.Context) error
}

// Connector establishes Network connections. Implementations perform the
// node handshake inside Connect.
type Connector interface {
	Connect(ctx context.Context) (Network, error)
}
