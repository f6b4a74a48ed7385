package contactsync_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/memohai/crmsync/internal/contacts"
	"github.com/memohai/crmsync/internal/contactsync"
	"github.com/memohai/crmsync/internal/contactsync/memstore"
	"github.com/memohai/crmsync/internal/directory"
	"github.com/memohai/crmsync/internal/event"
	"github.com/memohai/crmsync/internal/taskqueue"
)

const fakeProviderName = "fake"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeDirectory is an in-memory directory account.
type fakeDirectory struct {
	mu          sync.Mutex
	clock       *clock
	items       map[string]directory.Contact
	order       []string
	seq         int
	softDeleted []string
	hardDeleted []string
	fetchErr    error
	fetchPanic  bool
	fetchGate   chan struct{}
	updateErr   map[string]error
	createPanic string
	calls       int
}

func newFakeDirectory(c *clock) *fakeDirectory {
	return &fakeDirectory{clock: c, items: map[string]directory.Contact{}, updateErr: map[string]error{}}
}

func (d *fakeDirectory) nextETag() string {
	d.seq++
	return fmt.Sprintf("etag-%d", d.seq)
}

// put stores a contact as the provider would after an external edit.
func (d *fakeDirectory) put(id string, f contactsync.Fields, at time.Time) directory.Contact {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := contactFromInput(id, directory.ContactInput{Name: f.Name, Email: f.Email, Phone: f.Phone, Address: f.Address, Organization: f.Organization, Title: f.Title, Notes: f.Notes})
	c.ETag = d.nextETag()
	c.UpdatedAt = at
	c.Starred = true
	if _, ok := d.items[id]; !ok {
		d.order = append(d.order, id)
	}
	d.items[id] = c
	return c
}

// star adds an existing contact to the starred group without touching its version.
func (d *fakeDirectory) star(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.items[id]
	if !ok {
		return
	}
	c.Starred = true
	d.items[id] = c
}

func (d *fakeDirectory) get(id string) (directory.Contact, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.items[id]
	return c, ok
}

func (d *fakeDirectory) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *fakeDirectory) FetchAll(ctx context.Context) ([]directory.Contact, error) {
	if d.fetchGate != nil {
		select {
		case <-d.fetchGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fetchPanic {
		panic("directory exploded")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fetchErr != nil {
		return nil, d.fetchErr
	}
	out := make([]directory.Contact, 0, len(d.order))
	for _, id := range d.order {
		if c, ok := d.items[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Create(_ context.Context, input directory.ContactInput) (directory.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createPanic != "" && input.Name == d.createPanic {
		panic("create " + input.Name)
	}
	id := "people/" + uuid.NewString()
	c := contactFromInput(id, input)
	c.ETag = d.nextETag()
	c.UpdatedAt = d.clock.Now()
	d.items[id] = c
	d.order = append(d.order, id)
	return c, nil
}

func (d *fakeDirectory) Update(_ context.Context, id string, input directory.ContactInput, etag string) (directory.Contact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.updateErr[id]; err != nil {
		return directory.Contact{}, err
	}
	existing, ok := d.items[id]
	if !ok {
		return directory.Contact{}, directory.ErrNotFound
	}
	if existing.ETag != etag {
		return directory.Contact{}, directory.ErrStaleVersion
	}
	c := contactFromInput(id, input)
	c.ETag = d.nextETag()
	c.UpdatedAt = d.clock.Now()
	c.Starred = existing.Starred
	d.items[id] = c
	return c, nil
}

func (d *fakeDirectory) SoftDelete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.items[id]
	if !ok {
		return directory.ErrNotFound
	}
	c.Starred = false
	d.items[id] = c
	d.softDeleted = append(d.softDeleted, id)
	return nil
}

func (d *fakeDirectory) HardDelete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[id]; !ok {
		return directory.ErrNotFound
	}
	delete(d.items, id)
	d.hardDeleted = append(d.hardDeleted, id)
	return nil
}

func contactFromInput(id string, in directory.ContactInput) directory.Contact {
	c := directory.Contact{ID: id, Notes: in.Notes}
	if in.Name != "" {
		c.Names = []directory.Name{{DisplayName: in.Name, Primary: true}}
	}
	if in.Email != "" {
		c.EmailAddresses = []directory.EmailAddress{{Value: in.Email, Primary: true}}
	}
	if in.Phone != "" {
		c.PhoneNumbers = []directory.PhoneNumber{{Value: in.Phone}}
	}
	if in.Address != "" {
		c.Addresses = []directory.Address{{FormattedValue: in.Address}}
	}
	if in.Organization != "" || in.Title != "" {
		c.Organizations = []directory.Organization{{Name: in.Organization, Title: in.Title}}
	}
	return c
}

// fakeProvider hands out the same fakeDirectory for every owner.
type fakeProvider struct {
	name      string
	dir       *fakeDirectory
	clientErr error
	refreshed *directory.Tokens
	exchanged directory.Tokens
}

func (p *fakeProvider) Name() string {
	if p.name != "" {
		return p.name
	}
	return fakeProviderName
}

func (p *fakeProvider) AuthorizationURL(state string) string {
	return "https://consent.example/auth?state=" + state
}

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (directory.Tokens, error) {
	if code != "good-code" {
		return directory.Tokens{}, errors.New("bad code")
	}
	return p.exchanged, nil
}

func (p *fakeProvider) Client(_ context.Context, _ directory.Tokens, onRefresh directory.TokenObserver) (directory.Client, error) {
	if p.clientErr != nil {
		return nil, p.clientErr
	}
	if p.refreshed != nil && onRefresh != nil {
		onRefresh(*p.refreshed)
	}
	return p.dir, nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	clock    *clock
	store    *memstore.Store
	local    *memstore.Contacts
	remote   *fakeDirectory
	provider *fakeProvider
	registry *directory.Registry
	hub      *event.Hub
	queue    *taskqueue.Queue
	engine   *contactsync.Engine
	owner    string
	cfg      contactsync.Config
}

func newHarness(t *testing.T, mutate func(*contactsync.Config)) *harness {
	t.Helper()
	ctx := context.Background()
	clk := newClock()
	h := &harness{
		t:      t,
		ctx:    ctx,
		clock:  clk,
		store:  memstore.New(),
		local:  memstore.NewContacts(),
		remote: newFakeDirectory(clk),
		hub:    event.NewHub(),
		owner:  uuid.NewString(),
	}
	h.local.Now = clk.Now
	h.provider = &fakeProvider{dir: h.remote}
	h.registry = directory.NewRegistry()
	require.NoError(t, h.registry.Register(h.provider))

	creds, err := h.store.SaveCredentials(ctx, contactsync.Credentials{
		OwnerID:      h.owner,
		Provider:     fakeProviderName,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	})
	require.NoError(t, err)
	cfg := contactsync.Config{
		OwnerID:          h.owner,
		Provider:         fakeProviderName,
		Direction:        contactsync.DirectionTwoWay,
		ConflictPolicy:   contactsync.PolicyNewestWins,
		DeletionHandling: contactsync.DeletionSoft,
		Active:           true,
		CredentialID:     creds.ID,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.cfg, err = h.store.SaveConfig(ctx, cfg)
	require.NoError(t, err)

	h.queue = taskqueue.New(ctx, nil, 2, 16)
	t.Cleanup(func() { _ = h.queue.Stop(context.Background()) })
	h.engine = contactsync.NewEngine(nil, h.store, h.local, h.registry, h.queue, h.hub, contactsync.EngineOptions{
		Workers: 4,
		Now:     clk.Now,
	})
	return h
}

func (h *harness) run() contactsync.Run {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	run, err := h.engine.Run(ctx, h.owner, h.cfg.ID)
	require.NoError(h.t, err)
	h.clock.Advance(time.Minute)
	return run
}

func (h *harness) addLocal(name, email string) contacts.Contact {
	h.t.Helper()
	c, err := h.local.Create(h.ctx, contacts.CreateRequest{OwnerID: h.owner, DisplayName: name, Email: email})
	require.NoError(h.t, err)
	return c
}

func (h *harness) changes(runID string) []contactsync.ChangeLogEntry {
	h.t.Helper()
	entries, err := h.store.ListChangesByRun(h.ctx, runID, contactsync.ChangeLogFilter{})
	require.NoError(h.t, err)
	return entries
}

func (h *harness) mappingFor(localID string) contactsync.Mapping {
	h.t.Helper()
	all, err := h.store.ListMappings(h.ctx, h.owner, h.cfg.ID)
	require.NoError(h.t, err)
	for _, m := range all {
		if m.LocalID == localID {
			return m
		}
	}
	h.t.Fatalf("no mapping for local %s", localID)
	return contactsync.Mapping{}
}

// assertUniqueMappings checks that no two active mappings share a local or remote id.
func (h *harness) assertUniqueMappings() {
	h.t.Helper()
	seenLocal := map[string]bool{}
	seenRemote := map[string]bool{}
	for _, m := range h.store.ActiveMappings(h.owner) {
		require.False(h.t, seenLocal[m.LocalID], "duplicate active mapping for local %s", m.LocalID)
		require.False(h.t, seenRemote[m.RemoteID], "duplicate active mapping for remote %s", m.RemoteID)
		seenLocal[m.LocalID] = true
		seenRemote[m.RemoteID] = true
	}
}
