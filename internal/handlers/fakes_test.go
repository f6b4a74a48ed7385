package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/auth"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/contactsync/memstore"
	"github.com/memohai/crmsync/internal/directory"
	"github.com/memohai/crmsync/internal/event"
	"github.com/memohai/crmsync/internal/taskqueue"
)

const testSecret = "handler-test-secret"

// remoteBook is a tiny in-memory directory used behind the HTTP tests.
type remoteBook struct {
	mu    sync.Mutex
	items map[string]directory.Contact
	seq   int
}

func (b *remoteBook) Name() string { return "book" }

func (b *remoteBook) AuthorizationURL(state string) string {
	return "https://consent.example/auth?state=" + state
}

func (b *remoteBook) ExchangeCode(_ context.Context, code string) (directory.Tokens, error) {
	if code != "ok" {
		return directory.Tokens{}, fmt.Errorf("%w: bad code", directory.ErrAuthExpired)
	}
	return directory.Tokens{AccessToken: "access", RefreshToken: "refresh", AccountEmail: "me@book.example"}, nil
}

func (b *remoteBook) Client(context.Context, directory.Tokens, directory.TokenObserver) (directory.Client, error) {
	return b, nil
}

func (b *remoteBook) FetchAll(context.Context) ([]directory.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]directory.Contact, 0, len(b.items))
	for _, c := range b.items {
		out = append(out, c)
	}
	return out, nil
}

func (b *remoteBook) Create(_ context.Context, in directory.ContactInput) (directory.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	c := directory.Contact{
		ID:        fmt.Sprintf("people/%d", b.seq),
		ETag:      fmt.Sprintf("e%d", b.seq),
		Names:     []directory.Name{{DisplayName: in.Name}},
		UpdatedAt: time.Now().UTC(),
	}
	if in.Email != "" {
		c.EmailAddresses = []directory.EmailAddress{{Value: in.Email}}
	}
	b.items[c.ID] = c
	return c, nil
}

func (b *remoteBook) Update(_ context.Context, id string, in directory.ContactInput, _ string) (directory.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.items[id]
	if !ok {
		return directory.Contact{}, directory.ErrNotFound
	}
	c.Names = []directory.Name{{DisplayName: in.Name}}
	c.UpdatedAt = time.Now().UTC()
	b.items[id] = c
	return c, nil
}

func (b *remoteBook) SoftDelete(_ context.Context, id string) error {
	return b.HardDelete(context.Background(), id)
}

func (b *remoteBook) HardDelete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, id)
	return nil
}

type testEnv struct {
	t        *testing.T
	e        *echo.Echo
	store    *memstore.Store
	contacts *memstore.Contacts
	book     *remoteBook
	hub      *event.Hub
	engine   *contactsync.Engine
	owner    string
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.Default()
	ctx, cancel := context.WithCancel(context.Background())
	queue := taskqueue.New(ctx, log, 2, 16)
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = queue.Stop(stopCtx)
		cancel()
	})

	env := &testEnv{
		t:        t,
		store:    memstore.New(),
		contacts: memstore.NewContacts(),
		book:     &remoteBook{items: map[string]directory.Contact{}},
		hub:      event.NewHub(),
		owner:    uuid.NewString(),
	}
	registry := directory.NewRegistry()
	registry.MustRegister(env.book)
	state, err := auth.NewStateCodec(testSecret, time.Minute)
	require.NoError(t, err)

	env.engine = contactsync.NewEngine(log, env.store, env.contacts, registry, queue, env.hub, contactsync.EngineOptions{Workers: 2})
	query := contactsync.NewQueryService(env.store)
	configs := contactsync.NewConfigService(log, env.store, registry, state, 30)

	env.e = echo.New()
	env.e.Use(auth.JWTMiddleware(testSecret, func(c echo.Context) bool {
		return c.Request().URL.Path == "/ping" || c.Path() == "/sync/oauth/:provider/callback"
	}))
	for _, h := range []interface{ Register(*echo.Echo) }{
		NewPingHandler(log, nil),
		NewContactsHandler(env.contacts),
		NewSyncHandler(log, env.engine, query),
		NewSyncConfigHandler(log, configs),
		NewSyncEventsHandler(log, env.hub),
	} {
		h.Register(env.e)
	}
	env.token = env.tokenFor(env.owner)
	return env
}

func (env *testEnv) tokenFor(owner string) string {
	tok, _, err := auth.GenerateToken(owner, testSecret, time.Hour)
	require.NoError(env.t, err)
	return tok
}

// do performs an authenticated request as the env owner and decodes a JSON body into out.
func (env *testEnv) do(method, path string, body, out any) int {
	return env.doAs(env.token, method, path, body, out)
}

func (env *testEnv) doAs(token, method, path string, body, out any) int {
	env.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(env.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}
