// Package policy builds and canonicalizes on-chain access conditions.
//
// The condition used at encryption time and the condition used at decryption
// time must be byte-identical, so every call site goes through Builder.Build.
// Duplicating the literal anywhere else makes decryption fail with an
// authorization error even when consent is correctly granted.
package policy

import (
	"encoding/json"

	"consentis/contracts/registry"
	"consentis/pkg/domain"
)

// CallerPlaceholder is substituted by the decryption network with the
// address of the wallet presenting the session proof.
const CallerPlaceholder = ":userAddress"

// ReturnValueTest describes the expected result of the predicate call.
type ReturnValueTest struct {
	Comparator string `json:"comparator"`
	Value      string `json:"value"`
}

// AccessCondition is one on-chain predicate the decryption network evaluates
// before releasing plaintext. The JSON field names are a fixed external
// contract shared with the backend's acc_json column.
type AccessCondition struct {
	ContractAddress      string          `json:"contractAddress"`
	StandardContractType string          `json:"standardContractType"`
	Chain                string          `json:"chain"`
	Method               string          `json:"method"`
	Parameters           []string        `json:"parameters"`
	ReturnValueTest      ReturnValueTest `json:"returnValueTest"`
}

// Builder constructs access conditions against a fixed consent registry
// deployment. It is pure: no I/O, no failure modes.
type Builder struct {
	contractAddress domain.Address
	chain           string
}

// NewBuilder returns a builder bound to the consent registry contract on the
// given chain.
func NewBuilder(contractAddress domain.Address, chain string) *Builder {
	return &Builder{contractAddress: contractAddress, chain: chain}
}

// Build maps (owner, recordID) to the canonical consent predicate.
// Parameters are ordered (owner, caller placeholder, record id); the expected
// result is the string "true".
func (b *Builder) Build(owner domain.Address, recordID domain.RecordID) []AccessCondition {
	return []AccessCondition{
		{
			ContractAddress:      b.contractAddress.String(),
			StandardContractType: "",
			Chain:                b.chain,
			Method:               registry.MethodHasConsent,
			Parameters:           []string{owner.String(), CallerPlaceholder, recordID.String()},
			ReturnValueTest:      ReturnValueTest{Comparator: "=", Value: registry.GrantedResult},
		},
	}
}

// Encode serializes conditions for the backend's acc_json field.
func Encode(conditions []AccessCondition) ([]byte, error) {
	return json.Marshal(conditions)
}
