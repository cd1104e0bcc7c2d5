package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/moltnet/diaryd/internal/common"
	"github.com/moltnet/diaryd/internal/dbx"
	"github.com/moltnet/diaryd/internal/logging"
	"github.com/moltnet/diaryd/internal/server/identity"
	"github.com/moltnet/diaryd/internal/server/models"
	agentsrepo "github.com/moltnet/diaryd/internal/server/repositories/agents"
	credentialsrepo "github.com/moltnet/diaryd/internal/server/repositories/credentials"
	entriesrepo "github.com/moltnet/diaryd/internal/server/repositories/entries"
	sharesrepo "github.com/moltnet/diaryd/internal/server/repositories/shares"
	signingrepo "github.com/moltnet/diaryd/internal/server/repositories/signingrequests"
	vouchersrepo "github.com/moltnet/diaryd/internal/server/repositories/vouchers"
	"github.com/moltnet/diaryd/internal/workflow"
)

// --- helpers ---

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// --- fake repositories ---

type fakeEntriesRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.DiaryEntry
	creates int
	deletes int

	createErr error
	updateErr error
	deleteErr error
}

func newFakeEntriesRepo() *fakeEntriesRepo {
	return &fakeEntriesRepo{byID: map[string]*models.DiaryEntry{}}
}

func (f *fakeEntriesRepo) Create(ctx context.Context, entry *models.DiaryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return f.createErr
	}
	cp := *entry
	f.byID[entry.ID] = &cp
	return nil
}

func (f *fakeEntriesRepo) Get(ctx context.Context, id string) (*models.DiaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeEntriesRepo) Update(ctx context.Context, entry *models.DiaryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.byID[entry.ID]; !ok {
		return common.ErrorNotFound
	}
	cp := *entry
	f.byID[entry.ID] = &cp
	return nil
}

func (f *fakeEntriesRepo) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	_, ok := f.byID[id]
	delete(f.byID, id)
	return ok, nil
}

func (f *fakeEntriesRepo) ListByOwner(ctx context.Context, ownerID string) ([]*models.DiaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DiaryEntry
	for _, entry := range f.byID {
		if entry.OwnerID == ownerID {
			cp := *entry
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeSharesRepo struct {
	mu     sync.Mutex
	shares map[string]*models.DiaryEntryShare // entryID+"/"+agentID

	createErr error
}

func newFakeSharesRepo() *fakeSharesRepo {
	return &fakeSharesRepo{shares: map[string]*models.DiaryEntryShare{}}
}

func (f *fakeSharesRepo) Create(ctx context.Context, share *models.DiaryEntryShare) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	key := share.EntryID + "/" + share.AgentID
	if _, ok := f.shares[key]; ok {
		return common.ErrorConflict
	}
	cp := *share
	f.shares[key] = &cp
	return nil
}

func (f *fakeSharesRepo) Delete(ctx context.Context, entryID, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entryID + "/" + agentID
	_, ok := f.shares[key]
	delete(f.shares, key)
	return ok, nil
}

func (f *fakeSharesRepo) Exists(ctx context.Context, entryID, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.shares[entryID+"/"+agentID]
	return ok, nil
}

type fakeAgentsRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.Agent
	upserts int
	deletes int
}

func newFakeAgentsRepo() *fakeAgentsRepo {
	return &fakeAgentsRepo{byID: map[string]*models.Agent{}}
}

func (f *fakeAgentsRepo) Upsert(ctx context.Context, agent *models.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, existing := range f.byID {
		if existing.Fingerprint == agent.Fingerprint {
			return nil
		}
	}
	cp := *agent
	f.byID[agent.IdentityID] = &cp
	return nil
}

func (f *fakeAgentsRepo) Get(ctx context.Context, identityID string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agent, ok := f.byID[identityID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *agent
	return &cp, nil
}

func (f *fakeAgentsRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, agent := range f.byID {
		if agent.Fingerprint == fingerprint {
			cp := *agent
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeAgentsRepo) Delete(ctx context.Context, identityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.byID, identityID)
	return nil
}

type fakeVouchersRepo struct {
	mu     sync.Mutex
	byCode map[string]*models.Voucher

	redeemErr    error
	redeemRefuse bool // force the guarded update to match no row
}

func newFakeVouchersRepo() *fakeVouchersRepo {
	return &fakeVouchersRepo{byCode: map[string]*models.Voucher{}}
}

func (f *fakeVouchersRepo) Create(ctx context.Context, voucher *models.Voucher) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *voucher
	f.byCode[voucher.Code] = &cp
	return nil
}

func (f *fakeVouchersRepo) Get(ctx context.Context, code string) (*models.Voucher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	voucher, ok := f.byCode[code]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *voucher
	return &cp, nil
}

// Redeem mirrors the guarded update: only an unredeemed, unexpired row
// matches.
func (f *fakeVouchersRepo) Redeem(ctx context.Context, code, agentID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.redeemErr != nil {
		return false, f.redeemErr
	}
	if f.redeemRefuse {
		return false, nil
	}
	voucher, ok := f.byCode[code]
	if !ok || voucher.Redeemed() || voucher.Expired(time.Now()) {
		return false, nil
	}
	now := time.Now()
	voucher.RedeemedBy = &agentID
	voucher.RedeemedAt = &now
	return true, nil
}

type fakeSigningRepo struct {
	mu   sync.Mutex
	byID map[string]*models.SigningRequest

	completes int
	expires   int
}

func newFakeSigningRepo() *fakeSigningRepo {
	return &fakeSigningRepo{byID: map[string]*models.SigningRequest{}}
}

func (f *fakeSigningRepo) Create(ctx context.Context, request *models.SigningRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *request
	f.byID[request.ID] = &cp
	return nil
}

func (f *fakeSigningRepo) Get(ctx context.Context, id string) (*models.SigningRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *request
	return &cp, nil
}

func (f *fakeSigningRepo) ListByAgent(ctx context.Context, agentID string, status models.SigningRequestStatus) ([]*models.SigningRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SigningRequest
	for _, request := range f.byID {
		if request.AgentID != agentID {
			continue
		}
		if status != "" && request.Status != status {
			continue
		}
		cp := *request
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeSigningRepo) ListPending(ctx context.Context) ([]*models.SigningRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SigningRequest
	for _, request := range f.byID {
		if request.Status == models.SigningStatusPending {
			cp := *request
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Complete mirrors the guarded update: only a pending row matches.
func (f *fakeSigningRepo) Complete(ctx context.Context, id string, valid bool, signature string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.byID[id]
	if !ok || request.Status != models.SigningStatusPending {
		return false, nil
	}
	f.completes++
	request.Status = models.SigningStatusCompleted
	request.Valid = &valid
	request.Signature = &signature
	return true, nil
}

func (f *fakeSigningRepo) Expire(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	request, ok := f.byID[id]
	if !ok || request.Status != models.SigningStatusPending {
		return false, nil
	}
	f.expires++
	request.Status = models.SigningStatusExpired
	return true, nil
}

type fakeCredentialsRepo struct {
	mu   sync.Mutex
	byID map[string]*models.CredentialClient
}

func newFakeCredentialsRepo() *fakeCredentialsRepo {
	return &fakeCredentialsRepo{byID: map[string]*models.CredentialClient{}}
}

func (r *fakeCredentialsRepo) Create(ctx context.Context, client *models.CredentialClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[client.ClientID] = client
	return nil
}

func (r *fakeCredentialsRepo) Get(ctx context.Context, clientID string) (*models.CredentialClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.byID[clientID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return client, nil
}

func (r *fakeCredentialsRepo) DeleteByAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, client := range r.byID {
		if client.AgentID == agentID {
			delete(r.byID, id)
		}
	}
	return nil
}

// --- fake repository manager ---

type fakeRepoManager struct {
	entries     *fakeEntriesRepo
	shares      *fakeSharesRepo
	agents      *fakeAgentsRepo
	vouchers    *fakeVouchersRepo
	signing     *fakeSigningRepo
	credentials *fakeCredentialsRepo
	workflows   *workflow.MemoryStore
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		entries:     newFakeEntriesRepo(),
		shares:      newFakeSharesRepo(),
		agents:      newFakeAgentsRepo(),
		vouchers:    newFakeVouchersRepo(),
		signing:     newFakeSigningRepo(),
		credentials: newFakeCredentialsRepo(),
		workflows:   workflow.NewMemoryStore(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Agents(db dbx.DBTX) agentsrepo.Repository    { return m.agents }
func (m *fakeRepoManager) Credentials(db dbx.DBTX) credentialsrepo.Repository {
	return m.credentials
}
func (m *fakeRepoManager) Entries(db dbx.DBTX) entriesrepo.Repository { return m.entries }
func (m *fakeRepoManager) Shares(db dbx.DBTX) sharesrepo.Repository   { return m.shares }
func (m *fakeRepoManager) SigningRequests(db dbx.DBTX) signingrepo.Repository {
	return m.signing
}
func (m *fakeRepoManager) Vouchers(db dbx.DBTX) vouchersrepo.Repository { return m.vouchers }
func (m *fakeRepoManager) Workflows(db dbx.DBTX) workflow.Store         { return m.workflows }

// --- fake collaborators ---

type fakeGraph struct {
	mu sync.Mutex

	ownershipGrants int
	viewerGrants    int
	viewerRevokes   int
	removals        int
	registrations   int

	grantOwnershipErr   error
	grantOwnershipFails int // fail this many calls, then succeed
	grantViewerErr      error
	revokeErr           error
	removeErr           error
	registerErr         error

	canView, canEdit, canDelete, canShare bool
	checkErr                              error
}

func allowAllGraph() *fakeGraph {
	return &fakeGraph{canView: true, canEdit: true, canDelete: true, canShare: true}
}

func (g *fakeGraph) GrantOwnership(ctx context.Context, entryID, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ownershipGrants++
	if g.grantOwnershipFails > 0 {
		g.grantOwnershipFails--
		return errBoom{}
	}
	return g.grantOwnershipErr
}

func (g *fakeGraph) GrantViewer(ctx context.Context, entryID, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewerGrants++
	return g.grantViewerErr
}

func (g *fakeGraph) RevokeViewer(ctx context.Context, entryID, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewerRevokes++
	return g.revokeErr
}

func (g *fakeGraph) RemoveEntryRelations(ctx context.Context, entryID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removals++
	return g.removeErr
}

func (g *fakeGraph) RegisterAgent(ctx context.Context, agentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.registrations++
	return g.registerErr
}

func (g *fakeGraph) CanViewEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.canView, g.checkErr
}
func (g *fakeGraph) CanEditEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.canEdit, g.checkErr
}
func (g *fakeGraph) CanDeleteEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.canDelete, g.checkErr
}
func (g *fakeGraph) CanShareEntry(ctx context.Context, entryID, agentID string) (bool, error) {
	return g.canShare, g.checkErr
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	out   []float32
	err   error
}

func (e *fakeEmbedder) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.out, e.err
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.out, e.err
}

type fakeProvider struct {
	mu sync.Mutex

	created map[string]string // idempotencyKey -> identityID
	deleted []string

	createFails int
	createErr   error
	deleteErr   error

	creds    *identity.Credentials
	credsErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		created: map[string]string{},
		creds:   &identity.Credentials{ClientID: "client-1", ClientSecret: "secret-1"},
	}
}

func (p *fakeProvider) CreateIdentity(ctx context.Context, traits identity.Traits, idempotencyKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createFails > 0 {
		p.createFails--
		return "", errBoom{}
	}
	if p.createErr != nil {
		return "", p.createErr
	}
	if id, ok := p.created[idempotencyKey]; ok {
		return id, nil
	}
	id := "identity-" + idempotencyKey[:8]
	p.created[idempotencyKey] = id
	return id, nil
}

func (p *fakeProvider) DeleteIdentity(ctx context.Context, identityID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted = append(p.deleted, identityID)
	return nil
}

func (p *fakeProvider) CreateCredentialClient(ctx context.Context, identityID string) (*identity.Credentials, error) {
	if p.credsErr != nil {
		return nil, p.credsErr
	}
	return p.creds, nil
}
