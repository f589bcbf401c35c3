// Package e2e drives two fully wired agents through their HTTP APIs and
// asserts the consent flow end to end: a shared in-memory chain registry, a
// fake decryption network and an in-memory backend stand behind real agent
// stacks.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"consentis/internal/auth"
	"consentis/internal/auth/profile"
	"consentis/internal/chain"
	"consentis/internal/consent"
	"consentis/internal/decrypt"
	"consentis/internal/platform/logger"
	"consentis/internal/platform/metrics"
	"consentis/internal/policy"
	"consentis/internal/records"
	"consentis/internal/session"
	"consentis/internal/threshold"
	httptransport "consentis/internal/transport/http"
	"consentis/internal/upload"
	"consentis/internal/wallet"
	"consentis/pkg/domain"
)

var (
	sharedMetrics     *metrics.Metrics
	sharedMetricsOnce sync.Once
)

var contractAddr = domain.MustAddress("0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0")

// agent is one local agent exposed over a real HTTP listener.
type agent struct {
	wallet *wallet.LocalWallet
	server *httptest.Server
	client *http.Client
}

// TestContext holds the world for one scenario: the shared chain, network
// and backend plus one agent per wallet, and the last HTTP exchange.
type TestContext struct {
	registry *chain.MemoryRegistry
	fake     *threshold.FakeNetwork
	backend  *httptest.Server

	patient    *agent
	researcher *agent

	LastStatus       int
	LastResponseBody []byte
	LastRecordID     string
}

// NewTestContext returns an empty context; Reset builds the world before
// each scenario.
func NewTestContext() *TestContext {
	sharedMetricsOnce.Do(func() { sharedMetrics = metrics.New() })
	return &TestContext{}
}

// Reset tears down the previous scenario's world and builds a fresh shared
// chain, network and backend. Agents are created lazily by the connection
// steps so scenarios control wallet state.
func (tc *TestContext) Reset() error {
	tc.Close()

	registry := chain.NewMemoryRegistry("")
	fake, err := threshold.NewFakeNetwork(registry)
	if err != nil {
		return err
	}

	*tc = TestContext{
		registry: registry,
		fake:     fake,
		backend:  httptest.NewServer(newMemBackend(registry).handler()),
	}
	return nil
}

// Close shuts down every listener started for the scenario.
func (tc *TestContext) Close() {
	for _, a := range []*agent{tc.patient, tc.researcher} {
		if a != nil {
			a.server.Close()
		}
	}
	if tc.backend != nil {
		tc.backend.Close()
	}
	tc.patient, tc.researcher, tc.backend = nil, nil, nil
}

func (tc *TestContext) newAgent() (*agent, error) {
	w, err := wallet.NewLocal()
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(session.NewMemoryStorage())
	if err := sessions.Hydrate(context.Background()); err != nil {
		return nil, err
	}

	log := logger.New()
	gate := profile.NewGate(profile.NewHTTPStore(tc.backend.URL), sessions)
	coordinator := auth.NewCoordinator(w, sessions, gate)
	manager := threshold.NewManager(tc.fake)

	recordsClient := records.NewClient(tc.backend.URL)
	gateway := records.NewGateway(tc.backend.URL + "/gw")
	consents := consent.NewClient(tc.registry)

	uploads := upload.NewPipeline(w,
		policy.NewBuilder(contractAddr, "sepolia"),
		manager, recordsClient, consents)
	decrypts := decrypt.NewPipeline(w, gateway, manager)

	h := httptransport.NewHandler(coordinator, gate, sessions, uploads, decrypts, consents, recordsClient, log)
	return &agent{
		wallet: w,
		server: httptest.NewServer(httptransport.NewRouter(h, log, sharedMetrics)),
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// connectAgents builds both agents, connects their wallets and selects roles
// through the API, completing the researcher profile when asked to.
func (tc *TestContext) connectAgents() error {
	var err error
	if tc.patient, err = tc.newAgent(); err != nil {
		return err
	}
	if tc.researcher, err = tc.newAgent(); err != nil {
		return err
	}

	tc.patient.wallet.Connect()
	patientAddr, _ := tc.patient.wallet.Address()
	tc.registry.SetCaller(patientAddr)
	tc.researcher.wallet.Connect()

	if err := tc.selectRole(tc.patient, "patient"); err != nil {
		return err
	}
	return tc.selectRole(tc.researcher, "researcher")
}

func (tc *TestContext) selectRole(a *agent, role string) error {
	if err := tc.postJSON(a, "/v1/session/role", map[string]string{"role": role}); err != nil {
		return err
	}
	if tc.LastStatus != http.StatusOK {
		return fmt.Errorf("role select failed: %d %s", tc.LastStatus, tc.LastResponseBody)
	}

	var sess struct {
		NeedsResearcherProfile bool `json:"needs_researcher_profile"`
	}
	if err := json.Unmarshal(tc.LastResponseBody, &sess); err != nil {
		return err
	}
	if !sess.NeedsResearcherProfile {
		return nil
	}

	if err := tc.postJSON(a, "/v1/profile", map[string]string{
		"name":        "Dr. Example",
		"institution": "Example Institute",
		"email":       "researcher@example.org",
	}); err != nil {
		return err
	}
	if tc.LastStatus != http.StatusCreated {
		return fmt.Errorf("profile create failed: %d %s", tc.LastStatus, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) do(a *agent, method, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(context.Background(), method, a.server.URL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.LastStatus = resp.StatusCode
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) postJSON(a *agent, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tc.do(a, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func (tc *TestContext) get(a *agent, path string) error {
	return tc.do(a, http.MethodGet, path, nil, "")
}

// uploadFile posts a multipart upload and remembers the resulting record id
// for later steps.
func (tc *TestContext) uploadFile(a *agent, name string, data []byte) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("name", name); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	if err := tc.do(a, http.MethodPost, "/v1/upload", body, mw.FormDataContentType()); err != nil {
		return err
	}

	var out struct {
		Status struct {
			RecordID string `json:"record_id"`
		} `json:"status"`
	}
	if tc.LastStatus == http.StatusCreated {
		if err := json.Unmarshal(tc.LastResponseBody, &out); err != nil {
			return err
		}
		tc.LastRecordID = out.Status.RecordID
	}
	return nil
}

// memBackend is an in-memory stand-in for the records and profile APIs,
// joined to the chain registry for shared-listing consent status.
type memBackend struct {
	mu       sync.Mutex
	records  map[string]memRecord
	byCID    map[string][]byte
	profiles map[string]string
	registry *chain.MemoryRegistry
}

type memRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CID          string `json:"ipfs_cid"`
	CipherDigest string `json:"data_to_encrypt_hash"`
	AccessPolicy string `json:"acc_json"`
	Owner        string `json:"patient_address"`

	ConsentStatus string `json:"consent_status,omitempty"`
}

func newMemBackend(registry *chain.MemoryRegistry) *memBackend {
	return &memBackend{
		records:  make(map[string]memRecord),
		byCID:    make(map[string][]byte),
		profiles: make(map[string]string),
		registry: registry,
	}
}

func (b *memBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/records", b.createRecord)
	mux.HandleFunc("GET /api/v1/records/patient/{addr}", b.patientRecords)
	mux.HandleFunc("GET /api/v1/records/researcher/{addr}", b.researcherRecords)
	mux.HandleFunc("GET /api/v1/records/{id}", b.getRecord)
	mux.HandleFunc("GET /api/v1/users/researcher/{addr}", b.getProfile)
	mux.HandleFunc("POST /api/v1/users/researcher", b.createProfile)
	mux.HandleFunc("GET /gw/{cid}", b.gatewayFetch)
	return mux
}

func (b *memBackend) createRecord(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "bad multipart", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	ciphertext, _ := io.ReadAll(file)

	id := r.FormValue("record_id")
	cid := "bafy-" + id

	b.mu.Lock()
	b.records[id] = memRecord{
		ID:           id,
		Name:         r.FormValue("name"),
		CID:          cid,
		CipherDigest: r.FormValue("data_to_encrypt_hash"),
		AccessPolicy: r.FormValue("acc_json"),
		Owner:        r.FormValue("patient_address"),
	}
	b.byCID[cid] = ciphertext
	b.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "record created", "cid": cid})
}

func (b *memBackend) getRecord(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	rec, ok := b.records[r.PathValue("id")]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rec)
}

func (b *memBackend) patientRecords(w http.ResponseWriter, r *http.Request) {
	addr := strings.ToLower(r.PathValue("addr"))
	b.mu.Lock()
	out := make([]memRecord, 0)
	for _, rec := range b.records {
		if strings.ToLower(rec.Owner) == addr {
			out = append(out, rec)
		}
	}
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (b *memBackend) researcherRecords(w http.ResponseWriter, r *http.Request) {
	addr := strings.ToLower(r.PathValue("addr"))
	b.mu.Lock()
	out := make([]memRecord, 0)
	for _, rec := range b.records {
		if strings.ToLower(rec.Owner) == addr {
			continue
		}
		granted, _ := b.registry.HasConsent(r.Context(),
			domain.MustAddress(rec.Owner), domain.MustAddress(addr), domain.RecordID(rec.ID))
		rec.ConsentStatus = "revoked"
		if granted {
			rec.ConsentStatus = "granted"
		}
		out = append(out, rec)
	}
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (b *memBackend) getProfile(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	id, ok := b.profiles[strings.ToLower(r.PathValue("addr"))]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (b *memBackend) createProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	id := fmt.Sprintf("prof-%d", len(b.profiles)+1)
	b.profiles[strings.ToLower(req.WalletAddress)] = id
	b.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (b *memBackend) gatewayFetch(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	data, ok := b.byCID[r.PathValue("cid")]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	_, _ = w.Write(data)
}
