package threshold

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"consentis/internal/wallet"
	dErrors "consentis/pkg/domain-errors"
)

// DefaultProofTTL matches the session signature lifetime the network accepts.
const DefaultProofTTL = 24 * time.Hour

// WildcardResource scopes a proof to any record's decryption capability.
const WildcardResource = "*"

// ProofClaims is the capability claim set of a session proof.
type ProofClaims struct {
	jwt.RegisteredClaims
	Resource string `json:"resource"`
	Ability  string `json:"ability"`
}

// SessionProof builds a short-lived delegated authorization for the caller's
// wallet, scoped to the decryption capability of resource. The challenge is
// the token's signing string; the wallet signs it interactively, so no key
// material crosses the wallet boundary.
func SessionProof(ctx context.Context, w wallet.Wallet, resource string, ttl time.Duration) (string, error) {
	addr, ok := w.Address()
	if !ok {
		return "", dErrors.New(dErrors.CodeWalletNotConnected, "wallet not connected")
	}
	if resource == "" {
		resource = WildcardResource
	}
	if ttl <= 0 {
		ttl = DefaultProofTTL
	}

	now := time.Now()
	claims := ProofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   addr.String(),
			Audience:  jwt.ClaimStrings{"threshold-decryption"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Resource: resource,
		Ability:  "access-control-condition-decryption",
	}

	token := jwt.NewWithClaims(walletMethod, claims)
	signed, err := token.SignedString(&walletKey{ctx: ctx, wallet: w})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return "", err
		}
		return "", dErrors.Wrap(err, dErrors.CodeAuthorizationDenied, "session proof signing failed")
	}
	return signed, nil
}

// walletKey adapts the wallet boundary to jwt's opaque key parameter.
type walletKey struct {
	ctx    context.Context
	wallet wallet.Wallet
}

// walletSigningMethod signs JWTs through the wallet boundary. Verification
// is the decryption network's job; the client never validates its own proofs.
type walletSigningMethod struct{}

var walletMethod = &walletSigningMethod{}

func init() {
	jwt.RegisterSigningMethod(walletMethod.Alg(), func() jwt.SigningMethod { return walletMethod })
}

func (m *walletSigningMethod) Alg() string { return "WalletSig" }

func (m *walletSigningMethod) Sign(signingString string, key any) ([]byte, error) {
	wk, ok := key.(*walletKey)
	if !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	sig, err := wk.wallet.SignMessage(wk.ctx, []byte(signingString))
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func (m *walletSigningMethod) Verify(_ string, _ []byte, _ any) error {
	return errors.New("session proofs are verified by the decryption network")
}

// ParseProofClaims decodes a proof's claims without verifying the signature.
// Used by tests and by fakes standing in for the network.
func ParseProofClaims(proof string) (*ProofClaims, error) {
	claims := &ProofClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(proof, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
