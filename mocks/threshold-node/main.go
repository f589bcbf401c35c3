// Mock threshold-decryption node for local development. Speaks the agent's
// node protocol (/ready, /encrypt, /decrypt): plaintext is sealed with a
// process-local AES-GCM key, and decryption evaluates the consent predicate
// against a chain RPC node, substituting the caller from the session proof.
//
// Run next to the agent:
//
//	CHAIN_RPC_URL=http://localhost:8545 go run .
//	CONSENTIS_THRESHOLD_URL=http://localhost:7470 consentis-agent
package main

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultPort        = "7470"
	defaultChainRPCURL = "http://localhost:8545"
	callerPlaceholder  = ":userAddress"
)

type accessCondition struct {
	ContractAddress      string   `json:"contractAddress"`
	StandardContractType string   `json:"standardContractType"`
	Chain                string   `json:"chain"`
	Method               string   `json:"method"`
	Parameters           []string `json:"parameters"`
	ReturnValueTest      struct {
		Comparator string `json:"comparator"`
		Value      string `json:"value"`
	} `json:"returnValueTest"`
}

type encryptRequest struct {
	Data       string            `json:"data"`
	Conditions []accessCondition `json:"accessControlConditions"`
}

type decryptRequest struct {
	Ciphertext string            `json:"ciphertext"`
	Digest     string            `json:"dataToEncryptHash"`
	Conditions []accessCondition `json:"accessControlConditions"`
	Proof      string            `json:"sessionProof"`
}

type node struct {
	gcm         cipher.AEAD
	chainRPCURL string
	http        *http.Client
	permissive  bool
}

func main() {
	port := getEnv("PORT", defaultPort)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatal(err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		log.Fatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		log.Fatal(err)
	}

	n := &node{
		gcm:         gcm,
		chainRPCURL: getEnv("CHAIN_RPC_URL", defaultChainRPCURL),
		http:        &http.Client{Timeout: 15 * time.Second},
		permissive:  os.Getenv("PERMISSIVE") == "true",
	}

	http.HandleFunc("GET /ready", n.handleReady)
	http.HandleFunc("POST /encrypt", n.handleEncrypt)
	http.HandleFunc("POST /decrypt", n.handleDecrypt)

	log.Printf("mock threshold node listening on :%s", port)
	log.Printf("chain rpc: %s, permissive: %v", n.chainRPCURL, n.permissive)
	log.Printf("ciphertexts are sealed with an ephemeral key: restart invalidates them")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func (n *node) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (n *node) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "data is not base64", http.StatusBadRequest)
		return
	}
	if len(req.Conditions) == 0 {
		http.Error(w, "no access control conditions", http.StatusBadRequest)
		return
	}

	// The conditions ride inside the sealed blob so decrypt can verify the
	// caller presents the same policy the data was bound to.
	bound, err := json.Marshal(struct {
		Conditions []accessCondition `json:"conditions"`
		Data       []byte            `json:"data"`
	}{req.Conditions, data})
	if err != nil {
		http.Error(w, "seal failed", http.StatusInternalServerError)
		return
	}

	nonce := make([]byte, n.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		http.Error(w, "seal failed", http.StatusInternalServerError)
		return
	}
	sealed := n.gcm.Seal(nonce, nonce, bound, nil)

	// The agent derives the plaintext digest itself when the node omits it.
	writeJSON(w, http.StatusOK, map[string]string{
		"ciphertext":        base64.StdEncoding.EncodeToString(sealed),
		"dataToEncryptHash": "",
	})
}

func (n *node) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	caller, err := proofSubject(req.Proof)
	if err != nil {
		http.Error(w, "invalid session proof: "+err.Error(), http.StatusUnauthorized)
		return
	}

	sealed, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil || len(sealed) < n.gcm.NonceSize() {
		http.Error(w, "malformed ciphertext", http.StatusBadRequest)
		return
	}
	opened, err := n.gcm.Open(nil, sealed[:n.gcm.NonceSize()], sealed[n.gcm.NonceSize():], nil)
	if err != nil {
		http.Error(w, "ciphertext does not open (node restarted?)", http.StatusForbidden)
		return
	}

	var bound struct {
		Conditions []accessCondition `json:"conditions"`
		Data       []byte            `json:"data"`
	}
	if err := json.Unmarshal(opened, &bound); err != nil {
		http.Error(w, "sealed payload corrupt", http.StatusInternalServerError)
		return
	}

	for _, c := range bound.Conditions {
		ok, err := n.evaluate(c, caller)
		if err != nil {
			http.Error(w, "predicate evaluation failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		if !ok {
			http.Error(w, "access denied: consent predicate is false for "+caller, http.StatusForbidden)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"data": base64.StdEncoding.EncodeToString(bound.Data),
	})
}

// evaluate runs one condition against the chain. In permissive mode every
// predicate passes, which is handy before a registry is deployed.
func (n *node) evaluate(c accessCondition, caller string) (bool, error) {
	if n.permissive {
		return true, nil
	}

	params := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		if p == callerPlaceholder {
			params[i] = caller
		} else {
			params[i] = p
		}
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "registry_call",
		"params": map[string]any{
			"contract": c.ContractAddress,
			"method":   c.Method,
			"args":     params,
		},
	})
	if err != nil {
		return false, err
	}

	resp, err := n.http.Post(n.chainRPCURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	var rpcResp struct {
		Result struct {
			Value bool `json:"value"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return false, fmt.Errorf("malformed rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return false, fmt.Errorf("chain rpc: %s", rpcResp.Error.Message)
	}

	want := c.ReturnValueTest.Value == "true"
	return rpcResp.Result.Value == want, nil
}

// proofSubject extracts the wallet address from the session proof without
// verifying the signature. A real node verifies; the mock only needs to know
// who is asking, plus a liveness check on the expiry.
func proofSubject(proof string) (string, error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("not a jwt")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("payload is not base64url")
	}

	var claims struct {
		Subject   string `json:"sub"`
		ExpiresAt int64  `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("claims are not json")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("no subject")
	}
	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return "", fmt.Errorf("proof expired")
	}
	return claims.Subject, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
