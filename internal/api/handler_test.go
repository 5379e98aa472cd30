package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmailproxy/internal/admin"
	"tempmailproxy/internal/config"
	"tempmailproxy/internal/domain"
	"tempmailproxy/internal/requestid"
)

// --- Mocks ---

type mockProvider struct {
	domains    []json.RawMessage
	domainsErr error
	tokenBody  json.RawMessage
	tokenErr   error
	pageBody   json.RawMessage
	messageErr error

	gotAddress, gotPassword string
	gotToken, gotMessageID  string
	gotPage                 int
}

func (m *mockProvider) ListDomains(context.Context) ([]json.RawMessage, error) {
	return m.domains, m.domainsErr
}

func (m *mockProvider) GetToken(_ context.Context, address, password string) (json.RawMessage, error) {
	m.gotAddress, m.gotPassword = address, password
	return m.tokenBody, m.tokenErr
}

func (m *mockProvider) ListMessages(_ context.Context, token string, page int) (json.RawMessage, error) {
	m.gotToken, m.gotPage = token, page
	return m.pageBody, m.messageErr
}

func (m *mockProvider) GetMessage(_ context.Context, token, id string) (json.RawMessage, error) {
	m.gotToken, m.gotMessageID = token, id
	return m.pageBody, m.messageErr
}

type mockProvisioner struct {
	bundle *domain.AccountBundle
	err    error
	got    *domain.NewAccountRequest
}

func (m *mockProvisioner) Create(_ context.Context, req domain.NewAccountRequest) (*domain.AccountBundle, error) {
	m.got = &req
	return m.bundle, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

// --- Helpers ---

func testConfig() *config.Config {
	return &config.Config{
		Port:               "8000",
		MailTMBaseURL:      "https://api.mail.tm",
		UpstreamTimeout:    20 * time.Second,
		LogLevel:           "info",
		CORSAllowedOrigins: []string{"*"},
	}
}

func newTestRouter(p Provider, prov Provisioner, opts ...Option) http.Handler {
	return New(testConfig(), p, prov, nil, opts...).Router()
}

func do(router http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Static endpoints ---

func TestRootAndHealth(t *testing.T) {
	router := newTestRouter(&mockProvider{}, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Temp Mail Backend running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestid.Header))

	rec = do(router, http.MethodGet, "/test", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"backend":"running"}`, rec.Body.String())

	rec = do(router, http.MethodGet, "/api/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/api/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_DependsOnChecker(t *testing.T) {
	router := newTestRouter(&mockProvider{}, &mockProvisioner{}, WithReadiness(mockPinger{err: errors.New("down")}))

	rec := do(router, http.MethodGet, "/api/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(&mockProvider{}, &mockProvisioner{})

	rec := do(router, http.MethodOptions, "/api/temp-mail/new", nil, map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Less(t, rec.Code, 300)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// --- Domains ---

func TestGetDomains_ReturnsMembersUnderDomainsKey(t *testing.T) {
	p := &mockProvider{domains: []json.RawMessage{
		json.RawMessage(`{"id":"1","domain":"a.test","isActive":true}`),
		json.RawMessage(`{"id":"2","domain":"b.test","isPrivate":false}`),
	}}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/domains", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"domains":[{"id":"1","domain":"a.test","isActive":true},{"id":"2","domain":"b.test","isPrivate":false}]}`,
		rec.Body.String())
}

func TestGetDomains_UpstreamError(t *testing.T) {
	p := &mockProvider{domainsErr: domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway, "Failed to fetch domains: down", nil)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/domains", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"detail":"Failed to fetch domains: down"}`, rec.Body.String())
}

// --- Provisioning ---

func TestCreateTempMail(t *testing.T) {
	prov := &mockProvisioner{bundle: &domain.AccountBundle{
		Address:  "alice@a.test",
		Password: "pw",
		Token:    "tok",
		Account:  json.RawMessage(`{"id":"acc-1"}`),
	}}
	router := newTestRouter(&mockProvider{}, prov)

	rec := do(router, http.MethodPost, "/api/temp-mail/new", []byte(`{"local":"alice","domain":"a.test"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"address":"alice@a.test","password":"pw","token":"tok","account":{"id":"acc-1"}}`, rec.Body.String())

	require.NotNil(t, prov.got)
	require.NotNil(t, prov.got.Local)
	assert.Equal(t, "alice", *prov.got.Local)
	assert.Equal(t, "a.test", *prov.got.Domain)
	assert.Nil(t, prov.got.Password)
}

func TestCreateTempMail_EmptyBody(t *testing.T) {
	prov := &mockProvisioner{bundle: &domain.AccountBundle{Account: json.RawMessage(`{}`)}}
	router := newTestRouter(&mockProvider{}, prov)

	rec := do(router, http.MethodPost, "/api/temp-mail/new", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.NewAccountRequest{}, *prov.got)
}

func TestCreateTempMail_InvalidJSON(t *testing.T) {
	prov := &mockProvisioner{}
	router := newTestRouter(&mockProvider{}, prov)

	rec := do(router, http.MethodPost, "/api/temp-mail/new", []byte(`{"local":`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, prov.got)
}

func TestDecode_WrongFieldTypeIsValidationError(t *testing.T) {
	prov := &mockProvisioner{}
	p := &mockProvider{}
	router := newTestRouter(p, prov)

	rec := do(router, http.MethodPost, "/api/temp-mail/new", []byte(`{"local":5}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "local")
	assert.Nil(t, prov.got)

	rec = do(router, http.MethodPost, "/api/temp-mail/token", []byte(`{"address":["a"],"password":"pw"}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, p.gotAddress)
}

func TestCreateTempMail_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"conflict exhausted", domain.NewError(domain.KindConflict, http.StatusConflict, "taken", nil), http.StatusConflict, "taken"},
		{"no domains", domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway, "No domains available from mail.tm", nil), http.StatusBadGateway, "No domains available from mail.tm"},
		{"token failure", domain.NewError(domain.KindUnauthorized, http.StatusUnauthorized, "bad creds", nil), http.StatusUnauthorized, "bad creds"},
		{"foreign error", errors.New("boom"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&mockProvider{}, &mockProvisioner{err: tt.err})

			rec := do(router, http.MethodPost, "/api/temp-mail/new", []byte(`{}`), nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, `{"detail":"`+tt.detail+`"}`, rec.Body.String())
		})
	}
}

// --- Token ---

func TestCreateToken_PassesThroughPayload(t *testing.T) {
	p := &mockProvider{tokenBody: json.RawMessage(`{"id":"acc-1","token":"jwt"}`)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodPost, "/api/temp-mail/token", []byte(`{"address":"bob@a.test","password":"pw"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"id":"acc-1","token":"jwt"}`, rec.Body.String())
	assert.Equal(t, "bob@a.test", p.gotAddress)
	assert.Equal(t, "pw", p.gotPassword)
}

func TestCreateToken_Unauthorized(t *testing.T) {
	p := &mockProvider{tokenErr: domain.NewError(domain.KindUnauthorized, http.StatusUnauthorized, `{"message":"Invalid credentials."}`, nil)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodPost, "/api/temp-mail/token", []byte(`{"address":"bob@a.test","password":"pw"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateToken_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		status int
	}{
		{"missing password", []byte(`{"address":"bob@a.test"}`), http.StatusUnprocessableEntity},
		{"missing address", []byte(`{"password":"pw"}`), http.StatusUnprocessableEntity},
		{"empty body", nil, http.StatusUnprocessableEntity},
		{"malformed", []byte(`not json`), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvider{}
			router := newTestRouter(p, &mockProvisioner{})

			rec := do(router, http.MethodPost, "/api/temp-mail/token", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, p.gotAddress)
		})
	}
}

// --- Messages ---

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer header", "/m", "Bearer abc123", "abc123", false},
		{"case insensitive scheme", "/m", "bEaReR abc123", "abc123", false},
		{"query wins over header", "/m?token=xyz", "Bearer abc123", "xyz", false},
		{"query only", "/m?token=xyz", "", "xyz", false},
		{"empty query falls back to header", "/m?token=", "Bearer abc123", "abc123", false},
		{"neither", "/m", "", "", true},
		{"malformed header", "/m", "Bearer", "", true},
		{"wrong scheme", "/m", "Token abc123", "", true},
		{"too many parts", "/m", "Bearer a b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := extractToken(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, domain.StatusOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListMessages(t *testing.T) {
	p := &mockProvider{pageBody: json.RawMessage(`{"hydra:member":[],"hydra:totalItems":0}`)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/temp-mail/messages", nil, map[string]string{"Authorization": "Bearer abc123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"hydra:member":[],"hydra:totalItems":0}`, rec.Body.String())
	assert.Equal(t, "abc123", p.gotToken)
	assert.Equal(t, 1, p.gotPage)

	rec = do(router, http.MethodGet, "/api/temp-mail/messages?token=xyz&page=3", nil, map[string]string{"Authorization": "Bearer abc123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xyz", p.gotToken)
	assert.Equal(t, 3, p.gotPage)
}

func TestListMessages_Errors(t *testing.T) {
	router := newTestRouter(&mockProvider{}, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/temp-mail/messages", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Missing token"}`, rec.Body.String())

	rec = do(router, http.MethodGet, "/api/temp-mail/messages?token=t&page=two", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListMessages_EmptyPageIsValidationError(t *testing.T) {
	p := &mockProvider{pageBody: json.RawMessage(`{}`)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/temp-mail/messages?token=t&page=", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, p.gotToken)
}

type panickingProvider struct{ mockProvider }

func (panickingProvider) ListDomains(context.Context) ([]json.RawMessage, error) {
	panic("boom")
}

func TestRequestLogger_LogsRecoveredPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	router := New(testConfig(), &panickingProvider{}, &mockProvisioner{}, logger).Router()

	rec := do(router, http.MethodGet, "/api/domains", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, float64(http.StatusInternalServerError), entry["status"])
	assert.Equal(t, "/api/domains", entry["path"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestGetMessage(t *testing.T) {
	p := &mockProvider{pageBody: json.RawMessage(`{"id":"msg-1","subject":"hi"}`)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/temp-mail/messages/msg-1?token=xyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"id":"msg-1","subject":"hi"}`, rec.Body.String())
	assert.Equal(t, "msg-1", p.gotMessageID)
	assert.Equal(t, "xyz", p.gotToken)
}

func TestGetMessage_PassesThroughUpstreamStatus(t *testing.T) {
	p := &mockProvider{messageErr: domain.NewError(domain.KindPassthrough, http.StatusNotFound, `{"detail":"Not Found"}`, nil)}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/temp-mail/messages/nope", nil, map[string]string{"Authorization": "Bearer t"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"detail":"{\"detail\":\"Not Found\"}"}`, rec.Body.String())
}

func TestGetMessage_MissingToken(t *testing.T) {
	p := &mockProvider{}
	router := newTestRouter(p, &mockProvisioner{})

	rec := do(router, http.MethodGet, "/api/temp-mail/messages/msg-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.gotMessageID)
}

// --- Admin mounting ---

func TestAdminRoutesMountedOnlyWhenConfigured(t *testing.T) {
	router := newTestRouter(&mockProvider{}, &mockProvisioner{})
	rec := do(router, http.MethodPost, "/api/admin/login", []byte(`{"password":"x"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cfg := testConfig()
	cfg.AdminPassword = "letmein"
	a, err := admin.NewAdminHandler(cfg, nil, nil)
	require.NoError(t, err)

	router = New(cfg, &mockProvider{}, &mockProvisioner{}, nil, WithAdmin(a)).Router()
	rec = do(router, http.MethodPost, "/api/admin/login", []byte(`{"password":"letmein"}`), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
