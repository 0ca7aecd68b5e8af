package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampgate/rampgate/internal/api"
	"github.com/rampgate/rampgate/internal/api/models"
	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/auth"
	"github.com/rampgate/rampgate/internal/evaluate"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/rollout"
)

type testAPI struct {
	server *httptest.Server
	token  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := flag.NewMemoryStore()
	log := audit.NewMemoryLog()
	logger := zerolog.Nop()

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "test-signing-key-for-tests-only",
	})
	token, _, err := jwtService.GenerateAccessToken("op-alice")
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Version:     "test",
		BuildTime:   "now",
		Logger:      logger,
		ServiceName: "rampgate-api-test",
		JWTService:  jwtService,
		FlagService: flag.NewService(flag.ServiceConfig{Store: store, Logger: logger}),
		Transitioner: rollout.NewTransitioner(rollout.TransitionerConfig{
			Store:    store,
			AuditLog: log,
			Logger:   logger,
		}),
		Evaluator: evaluate.New(evaluate.Config{Store: store, Logger: logger}),
		AuditLog:  log,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testAPI{server: server, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, authenticated bool) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (a *testAPI) evaluate(t *testing.T, flagID, subjectID string) models.Evaluation {
	t.Helper()
	resp := a.do(t, http.MethodGet, fmt.Sprintf("/v1/evaluate/%s?subject=%s", flagID, subjectID), nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var eval models.Evaluation
	decode(t, resp, &eval)
	return eval
}

func TestAPI_FlagLifecycle(t *testing.T) {
	a := newTestAPI(t)

	// Creating a flag requires an operator token.
	resp := a.do(t, http.MethodPost, "/v1/flags", models.FlagCreateRequest{
		FlagID:      "checkout-v2",
		Environment: "production",
	}, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/v1/flags", models.FlagCreateRequest{
		FlagID:      "checkout-v2",
		Environment: "production",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/v1/flags/checkout-v2", resp.Header.Get("Location"))

	var created models.Flag
	decode(t, resp, &created)
	assert.Equal(t, "disabled", created.Stage)
	assert.Equal(t, int64(1), created.Version)

	// Duplicate creation conflicts.
	resp = a.do(t, http.MethodPost, "/v1/flags", models.FlagCreateRequest{
		FlagID:      "checkout-v2",
		Environment: "production",
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Pin QA accounts on, a problem account off.
	resp = a.do(t, http.MethodPut, "/v1/flags/checkout-v2/lists", models.ListsUpdateRequest{
		AllowList: []string{"qa-1"},
		DenyList:  []string{"banned-1"},
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Enter canary. The flag stays off for everyone outside the allow list.
	resp = a.do(t, http.MethodPost, "/v1/flags/checkout-v2/stage", models.StageChangeRequest{
		To: "canary",
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var staged models.Flag
	decode(t, resp, &staged)
	assert.Equal(t, "canary", staged.Stage)

	eval := a.evaluate(t, "checkout-v2", "qa-1")
	assert.True(t, eval.Enabled)
	assert.Equal(t, evaluate.ReasonAllowList, eval.Reason)

	eval = a.evaluate(t, "checkout-v2", "banned-1")
	assert.False(t, eval.Enabled)
	assert.Equal(t, evaluate.ReasonDenyList, eval.Reason)

	eval = a.evaluate(t, "checkout-v2", "user-42")
	assert.False(t, eval.Enabled)
	assert.Equal(t, evaluate.ReasonStage, eval.Reason)

	// Start ramping. Unlisted subjects now resolve by bucket.
	resp = a.do(t, http.MethodPost, "/v1/flags/checkout-v2/stage", models.StageChangeRequest{
		To:      "ramping",
		Percent: 25,
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	eval = a.evaluate(t, "checkout-v2", "user-42")
	assert.Equal(t, evaluate.ReasonBucket, eval.Reason)
	assert.GreaterOrEqual(t, eval.Bucket, 0.0)
	assert.Less(t, eval.Bucket, 100.0)

	// Roll back. Even allow-listed subjects are now excluded.
	resp = a.do(t, http.MethodPost, "/v1/flags/checkout-v2/stage", models.StageChangeRequest{
		To:     "rolled_back",
		Detail: "elevated error rate",
	}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	eval = a.evaluate(t, "checkout-v2", "qa-1")
	assert.False(t, eval.Enabled)
	assert.Equal(t, evaluate.ReasonRolledBack, eval.Reason)

	// The audit trail records every transition with the operator.
	resp = a.do(t, http.MethodGet, "/v1/flags/checkout-v2/audit", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trail models.TransitionList
	decode(t, resp, &trail)
	require.Len(t, trail.Transitions, 3)
	assert.Equal(t, "canary", trail.Transitions[0].ToStage)
	assert.Equal(t, "ramping", trail.Transitions[1].ToStage)
	assert.Equal(t, "rolled_back", trail.Transitions[2].ToStage)
	assert.Contains(t, trail.Transitions[2].Detail, "operator op-alice")
}

func TestAPI_StageChangeErrors(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/v1/flags", models.FlagCreateRequest{
		FlagID:      "search-v3",
		Environment: "production",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Skipping stages is rejected.
	resp = a.do(t, http.MethodPost, "/v1/flags/search-v3/stage", models.StageChangeRequest{
		To: "full",
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown stage names are a client error.
	resp = a.do(t, http.MethodPost, "/v1/flags/search-v3/stage", models.StageChangeRequest{
		To: "everyone",
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown flags 404.
	resp = a.do(t, http.MethodPost, "/v1/flags/missing/stage", models.StageChangeRequest{
		To: "canary",
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_EvaluateValidation(t *testing.T) {
	a := newTestAPI(t)

	// Missing subject parameter.
	resp := a.do(t, http.MethodGet, "/v1/evaluate/checkout-v2", nil, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown flags fail closed rather than erroring.
	eval := a.evaluate(t, "missing", "user-1")
	assert.False(t, eval.Enabled)
	assert.Equal(t, evaluate.ReasonNotFound, eval.Reason)
}

func TestAPI_ListFlags(t *testing.T) {
	a := newTestAPI(t)

	for _, id := range []string{"checkout-v2", "search-v3"} {
		resp := a.do(t, http.MethodPost, "/v1/flags", models.FlagCreateRequest{
			FlagID:      id,
			Environment: "production",
		}, true)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	// Environment is required.
	resp := a.do(t, http.MethodGet, "/v1/flags", nil, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(t, http.MethodGet, "/v1/flags?environment=production", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.FlagList
	decode(t, resp, &list)
	assert.Len(t, list.Flags, 2)

	resp = a.do(t, http.MethodGet, "/v1/flags?environment=staging", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &list)
	assert.Empty(t, list.Flags)
}

func TestAPI_ArchiveFlag(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/v1/flags", models.FlagCreateRequest{
		FlagID:      "checkout-v2",
		Environment: "production",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = a.do(t, http.MethodDelete, "/v1/flags/checkout-v2", nil, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Archived flags no longer list and cannot change stage.
	resp = a.do(t, http.MethodGet, "/v1/flags?environment=production", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.FlagList
	decode(t, resp, &list)
	assert.Empty(t, list.Flags)

	resp = a.do(t, http.MethodPost, "/v1/flags/checkout-v2/stage", models.StageChangeRequest{
		To: "canary",
	}, true)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_OpsEndpoints(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodGet, "/v1/ops/health", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health models.Health
	decode(t, resp, &health)
	assert.Equal(t, models.HealthStatusOK, health.Status)

	resp = a.do(t, http.MethodGet, "/v1/ops/ready", nil, false)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
