package records

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "consentis/pkg/domain-errors"
	"consentis/pkg/domain"
)

var testOwner = domain.MustAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")

func TestCreateSendsMultipartAndParsesResult(t *testing.T) {
	recordID := domain.NewRecordID()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/records", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, recordID.String(), r.FormValue("record_id"))
		assert.Equal(t, "Blood Work.pdf", r.FormValue("name"))
		assert.Equal(t, testOwner.String(), r.FormValue("patient_address"))
		assert.Equal(t, "abc123", r.FormValue("data_to_encrypt_hash"))
		assert.JSONEq(t, `[]`, r.FormValue("acc_json"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "encrypted-record.bin", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"created","cid":"QmTest"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	result, err := client.Create(context.Background(), CreateRequest{
		RecordID:     recordID,
		Name:         "Blood Work.pdf",
		OwnerAddress: testOwner,
		CipherDigest: "abc123",
		AccessPolicy: []byte(`[]`),
		Ciphertext:   []byte("sealed"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContentAddress("QmTest"), result.ContentAddress)
}

func TestErrorBodySurfacedAsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "patient address is required", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.PatientRecords(context.Background(), testOwner)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransport))
	assert.Contains(t, err.Error(), "patient address is required")
}

func TestResearcherRecordsCarryConsentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/records/researcher/"+testOwner.String(), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"rec_7c9e6679-7425-40de-944b-e07fc1f90ae7","name":"a","ipfs_cid":"QmA",
			 "data_to_encrypt_hash":"h","acc_json":[],"patient_address":"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			 "created_at":"2026-08-01T10:00:00Z","consent_status":"granted","last_updated_consent":"2026-08-02T10:00:00Z"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	out, err := client.ResearcherRecords(context.Background(), testOwner)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ConsentGranted, out[0].ConsentStatus)
	require.NotNil(t, out[0].LastConsentChange)
}

func TestGatewayFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/QmOK":
			_, _ = w.Write([]byte("ciphertext-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := NewGateway(srv.URL + "/ipfs")
	data, err := g.Fetch(context.Background(), "QmOK")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext-bytes"), data)

	_, err = g.Fetch(context.Background(), "QmMissing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
