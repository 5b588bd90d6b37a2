package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hammad-tech/wellness/internal/browser"
	"github.com/Hammad-tech/wellness/pkg/models"
)

func newTestFastPath(t *testing.T, handler http.HandlerFunc, bypass string) *FastPath {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testConfig()
	cfg.TokenURL = srv.URL
	cfg.BypassHeader = bypass
	return NewFastPath(cfg, zap.NewNop())
}

func TestFastPathReturnsToken(t *testing.T) {
	var gotReq *http.Request
	fp := newTestFastPath(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotReq = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fast-tok","token_type":"Bearer","expires_in":3600}`))
	}, "rule-7")

	tok, ok := fp.Attempt(context.Background())

	require.True(t, ok)
	assert.Equal(t, "fast-tok", tok.Value)
	assert.Equal(t, models.TokenKindBearer, tok.Kind)
	require.NotNil(t, tok.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *tok.ExpiresAt, time.Minute)

	require.NotNil(t, gotReq)
	assert.Equal(t, "client_credentials", gotReq.PostFormValue("grant_type"))
	assert.Equal(t, "id", gotReq.PostFormValue("client_id"))
	assert.Equal(t, "rule-7", gotReq.Header.Get("x-firewall-rule"))
}

func TestFastPathFallsThroughOnChallengePage(t *testing.T) {
	fp := newTestFastPath(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><title>Just a moment...</title></html>`))
	}, "")

	tok, ok := fp.Attempt(context.Background())

	assert.False(t, ok)
	assert.Nil(t, tok)
}

func TestFastPathFallsThroughOnNonTokenBody(t *testing.T) {
	fp := newTestFastPath(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}, "")

	tok, ok := fp.Attempt(context.Background())

	assert.False(t, ok)
	assert.Nil(t, tok)
}

func TestFastPathFallsThroughOnConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig()
	cfg.TokenURL = srv.URL
	fp := NewFastPath(cfg, zap.NewNop())
	srv.Close()

	_, ok := fp.Attempt(context.Background())

	assert.False(t, ok)
}

func TestRunFastPathSkipsBrowser(t *testing.T) {
	fp := newTestFastPath(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"access_token":"fast-tok","expires_in":60}`))
	}, "")

	driver := &fakeDriver{pages: []*browser.PageState{page(cleanLoginPage)}}
	runner := newTestRunner(testConfig(), Deps{
		Driver:    driver,
		Solver:    &fakeSolver{},
		Injector:  &fakeInjector{},
		Login:     &fakeLogin{},
		Extractor: &fakeExtractor{},
		Fast:      fp,
	})

	out := runner.Run(context.Background())

	require.True(t, out.Succeeded())
	assert.Equal(t, "fast-tok", out.Token.Value)
	assert.Equal(t, 0, driver.openCount(), "fast-path success must not open a session")
}

func TestRunFastPathRejectionFallsThroughToBrowser(t *testing.T) {
	fp := newTestFastPath(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Just a moment..."))
	}, "")

	driver := &fakeDriver{pages: []*browser.PageState{page(cleanLoginPage)}}
	runner := newTestRunner(testConfig(), Deps{
		Driver:    driver,
		Solver:    &fakeSolver{},
		Injector:  &fakeInjector{},
		Login:     &fakeLogin{},
		Extractor: &fakeExtractor{tok: &models.AuthToken{Value: "browser-tok", Kind: models.TokenKindCookie}},
		Fast:      fp,
	})

	out := runner.Run(context.Background())

	require.True(t, out.Succeeded())
	assert.Equal(t, "browser-tok", out.Token.Value)
	assert.Equal(t, 1, driver.openCount())
	driver.assertAllClosedOnce(t)
}
