package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/auth"
	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/directory"
)

// connect walks the OAuth round trip and returns the activated config.
func (env *testEnv) connect() contactsync.Config {
	env.t.Helper()
	var authz AuthorizationResponse
	require.Equal(env.t, http.StatusOK, env.do(http.MethodGet, "/sync/oauth/book/authorize", nil, &authz))
	consent, err := url.Parse(authz.URL)
	require.NoError(env.t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(env.t, state)

	var cfg contactsync.Config
	callback := "/sync/oauth/book/callback?code=ok&state=" + url.QueryEscape(state)
	require.Equal(env.t, http.StatusOK, env.doAs("", http.MethodGet, callback, nil, &cfg))
	require.True(env.t, cfg.Active)
	return cfg
}

func (env *testEnv) waitRun(runID string) contactsync.Run {
	env.t.Helper()
	var run contactsync.Run
	require.Eventually(env.t, func() bool {
		if env.do(http.MethodGet, "/sync/runs/"+runID, nil, &run) != http.StatusOK {
			return false
		}
		return run.Status != contactsync.RunInProgress
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func TestSyncRunOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.connect()
	assert.Equal(t, "me@book.example", cfg.RemoteAccountEmail)

	var ann contacts.Contact
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/contacts", map[string]string{"display_name": "Ann"}, &ann))
	_, err := env.book.Create(context.Background(), directory.ContactInput{Name: "Bob", Email: "bob@x.com"})
	require.NoError(t, err)

	var started RunStartedResponse
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/sync/configs/"+cfg.ID+"/runs", nil, &started))
	require.NotEmpty(t, started.RunID)
	assert.Equal(t, contactsync.RunInProgress, started.Status)

	run := env.waitRun(started.RunID)
	assert.Equal(t, contactsync.RunCompleted, run.Status)
	assert.Equal(t, 1, run.Counters.CreatedLocal)
	assert.Equal(t, 1, run.Counters.CreatedRemote)

	var changes ListResponse[contactsync.ChangeLogEntry]
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/runs/"+run.ID+"/changes?change_type=create", nil, &changes))
	assert.Len(t, changes.Items, 2)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/runs/"+run.ID+"/changes?operation=create_remote", nil, &changes))
	require.Len(t, changes.Items, 1)
	assert.Equal(t, ann.ID, changes.Items[0].LocalID)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/sync/runs/"+run.ID+"/changes?operation=bogus", nil, nil))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/contacts/"+ann.ID+"/changes", nil, &changes))
	assert.Len(t, changes.Items, 1)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/changes?limit=10", nil, &changes))
	assert.Len(t, changes.Items, 2)

	var page contactsync.RunPage
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/runs?page=1&limit=5", nil, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Limit)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/sync/runs?page=x", nil, nil))

	// Stats are recorded just after the run row is finished.
	var stats contactsync.OwnerStats
	require.Eventually(t, func() bool {
		return env.do(http.MethodGet, "/sync/stats", nil, &stats) == http.StatusOK && stats.TotalRuns == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), stats.TotalItemsSynced)
	assert.Equal(t, 1, stats.Configs)

	stranger := env.tokenFor(uuid.NewString())
	assert.Equal(t, http.StatusNotFound, env.doAs(stranger, http.MethodGet, "/sync/runs/"+run.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.doAs(stranger, http.MethodPost, "/sync/configs/"+cfg.ID+"/runs", nil, nil))
}

func TestSyncConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/sync/configs/book", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/sync/configs/outlook", map[string]any{}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/sync/configs/book", map[string]any{"direction": "sideways"}, nil))

	var cfg contactsync.Config
	require.Equal(t, http.StatusOK, env.do(http.MethodPut, "/sync/configs/book", map[string]any{
		"direction":       "import_only",
		"conflict_policy": "provider_wins",
	}, &cfg))
	assert.Equal(t, contactsync.DirectionImportOnly, cfg.Direction)
	assert.False(t, cfg.Active)

	// Inactive until authorized.
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/sync/configs/"+cfg.ID+"/runs", nil, nil))

	cfg = env.connect()
	assert.Equal(t, contactsync.DirectionImportOnly, cfg.Direction)

	var list ListResponse[contactsync.Config]
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/configs", nil, &list))
	assert.Len(t, list.Items, 1)

	var disconnected contactsync.Config
	require.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/sync/configs/book", nil, &disconnected))
	assert.False(t, disconnected.Active)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/sync/configs/"+cfg.ID+"/runs", nil, nil))
}

func TestOAuthCallbackRejects(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.doAs("", http.MethodGet, "/sync/oauth/book/callback?code=ok", nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.doAs("", http.MethodGet, "/sync/oauth/book/callback?error=access_denied", nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.doAs("", http.MethodGet, "/sync/oauth/book/callback?code=ok&state=forged", nil, nil))

	var authz AuthorizationResponse
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/sync/oauth/book/authorize", nil, &authz))
	consent, err := url.Parse(authz.URL)
	require.NoError(t, err)
	callback := "/sync/oauth/book/callback?code=nope&state=" + url.QueryEscape(consent.Query().Get("state"))
	assert.Equal(t, http.StatusUnauthorized, env.doAs("", http.MethodGet, callback, nil, nil))
}

type busyStarter struct{}

func (busyStarter) Start(context.Context, string, string) (contactsync.Run, error) {
	return contactsync.Run{}, fmt.Errorf("start: %w", contactsync.ErrRunInProgress)
}

func TestStartRunConflict(t *testing.T) {
	e := echo.New()
	e.Use(auth.JWTMiddleware(testSecret, nil))
	NewSyncHandler(slog.Default(), busyStarter{}, nil).Register(e)

	tok, _, err := auth.GenerateToken(uuid.NewString(), testSecret, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/sync/configs/cfg-1/runs", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
