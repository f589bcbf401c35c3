// Package registry pins the external surface of the deployed consent
// registry contract. The method names and the hasConsent calling convention
// are shared between the agent, the decryption network, and the chain node;
// they live here so no caller duplicates the literals.
package registry

// ContractVersion identifies the registry ABI revision this module targets.
const ContractVersion = "v1"

// Transaction methods exposed by the registry contract.
const (
	MethodRegisterRecord = "registerRecord"
	MethodGrantConsent   = "grantConsent"
	MethodRevokeConsent  = "revokeConsent"
)

// MethodHasConsent is the read-only predicate evaluated by the decryption
// network. It takes exactly (owner, caller, recordID) and returns a boolean.
const MethodHasConsent = "hasConsent"

// HasConsentArity is the fixed parameter count of MethodHasConsent.
const HasConsentArity = 3

// GrantedResult is the string form of a passing hasConsent evaluation, as
// compared by the network's return-value test.
const GrantedResult = "true"
