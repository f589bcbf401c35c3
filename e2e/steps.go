package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// RegisterSteps registers all step definitions.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// World setup
	ctx.Step(`^a patient agent and a researcher agent are connected$`, tc.agentsConnected)
	ctx.Step(`^an agent whose wallet is not connected$`, tc.agentWithoutWallet)

	// Record steps
	ctx.Step(`^the patient uploads "([^"]*)" containing "([^"]*)"$`, tc.patientUploads)
	ctx.Step(`^the patient record list should include "([^"]*)"$`, tc.patientListIncludes)
	ctx.Step(`^the researcher lists patient records$`, tc.researcherListsPatientRecords)
	ctx.Step(`^the researcher shared list should show consent status "([^"]*)"$`, tc.sharedListShowsStatus)
	ctx.Step(`^the researcher requests decryption of that record$`, tc.researcherDecrypts)
	ctx.Step(`^the upload step should be "([^"]*)"$`, tc.uploadStepShouldBe)
	ctx.Step(`^the decrypted file should contain "([^"]*)"$`, tc.decryptedFileContains)

	// Consent steps
	ctx.Step(`^the patient grants consent to the researcher for that record$`, tc.patientGrants)
	ctx.Step(`^the patient grants consent to address "([^"]*)" for that record$`, tc.patientGrantsToAddress)
	ctx.Step(`^the patient revokes consent from the researcher for that record$`, tc.patientRevokes)
	ctx.Step(`^the patient checks consent for the researcher on that record$`, tc.patientChecksConsent)
	ctx.Step(`^the consent transaction state should be "([^"]*)"$`, tc.consentTxStateShouldBe)

	// Session steps
	ctx.Step(`^the patient logs out$`, tc.patientLogsOut)
	ctx.Step(`^the patient requests the session$`, tc.patientRequestsSession)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
}

func (tc *TestContext) agentsConnected(ctx context.Context) error {
	return tc.connectAgents()
}

func (tc *TestContext) agentWithoutWallet(ctx context.Context) error {
	var err error
	tc.patient, err = tc.newAgent()
	return err
}

func (tc *TestContext) patientUploads(ctx context.Context, name, content string) error {
	return tc.uploadFile(tc.patient, name, []byte(content))
}

func (tc *TestContext) uploadStepShouldBe(ctx context.Context, want string) error {
	var out struct {
		Status struct {
			Step string `json:"step"`
		} `json:"status"`
	}
	if err := json.Unmarshal(tc.LastResponseBody, &out); err != nil {
		return err
	}
	if out.Status.Step != want {
		return fmt.Errorf("upload step is %q, want %q", out.Status.Step, want)
	}
	return nil
}

func (tc *TestContext) patientListIncludes(ctx context.Context, name string) error {
	if err := tc.get(tc.patient, "/v1/records/patient"); err != nil {
		return err
	}
	return tc.responseShouldContain(ctx, name)
}

func (tc *TestContext) researcherListsPatientRecords(ctx context.Context) error {
	return tc.get(tc.researcher, "/v1/records/patient")
}

func (tc *TestContext) sharedListShowsStatus(ctx context.Context, status string) error {
	if err := tc.get(tc.researcher, "/v1/records/shared"); err != nil {
		return err
	}
	return tc.responseShouldContain(ctx, fmt.Sprintf(`"consent_status":%q`, status))
}

func (tc *TestContext) researcherDecrypts(ctx context.Context) error {
	return tc.do(tc.researcher, "POST", "/v1/records/"+tc.LastRecordID+"/decrypt", nil, "")
}

func (tc *TestContext) decryptedFileContains(ctx context.Context, content string) error {
	if !strings.Contains(string(tc.LastResponseBody), content) {
		return fmt.Errorf("decrypted file does not contain %q: %s", content, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) patientGrants(ctx context.Context) error {
	addr, ok := tc.researcher.wallet.Address()
	if !ok {
		return fmt.Errorf("researcher wallet not connected")
	}
	return tc.patientGrantsToAddress(ctx, addr.String())
}

func (tc *TestContext) patientGrantsToAddress(ctx context.Context, addr string) error {
	return tc.postJSON(tc.patient, "/v1/consent/grant", map[string]string{
		"researcher_address": addr,
		"record_id":          tc.LastRecordID,
	})
}

func (tc *TestContext) patientRevokes(ctx context.Context) error {
	addr, ok := tc.researcher.wallet.Address()
	if !ok {
		return fmt.Errorf("researcher wallet not connected")
	}
	return tc.postJSON(tc.patient, "/v1/consent/revoke", map[string]string{
		"researcher_address": addr.String(),
		"record_id":          tc.LastRecordID,
	})
}

func (tc *TestContext) patientChecksConsent(ctx context.Context) error {
	owner, _ := tc.patient.wallet.Address()
	researcher, _ := tc.researcher.wallet.Address()
	return tc.get(tc.patient, fmt.Sprintf("/v1/consent/check?owner=%s&researcher=%s&record_id=%s",
		owner, researcher, tc.LastRecordID))
}

func (tc *TestContext) consentTxStateShouldBe(ctx context.Context, want string) error {
	return tc.responseFieldShouldEqual(ctx, "state", want)
}

func (tc *TestContext) patientLogsOut(ctx context.Context) error {
	return tc.postJSON(tc.patient, "/v1/session/logout", map[string]string{})
}

func (tc *TestContext) patientRequestsSession(ctx context.Context) error {
	return tc.get(tc.patient, "/v1/session")
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, status int) error {
	if tc.LastStatus != status {
		return fmt.Errorf("response status is %d, want %d: %s", tc.LastStatus, status, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseShouldContain(ctx context.Context, want string) error {
	if !strings.Contains(string(tc.LastResponseBody), want) {
		return fmt.Errorf("response does not contain %q: %s", want, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, want string) error {
	var body map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &body); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	got, ok := body[field]
	if !ok {
		return fmt.Errorf("response has no field %q: %s", field, tc.LastResponseBody)
	}
	if fmt.Sprintf("%v", got) != want {
		return fmt.Errorf("field %q is %v, want %q", field, got, want)
	}
	return nil
}
