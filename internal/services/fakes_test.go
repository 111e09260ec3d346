package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mylifebyai/mlbai/internal/models"
	"github.com/mylifebyai/mlbai/internal/patreon"
	"github.com/mylifebyai/mlbai/internal/utils"
)

// memProfiles is an in-memory ProfileRepository. Rows are copied in and out
// so tests observe only what was written.
type memProfiles struct {
	mu      sync.Mutex
	rows    map[string]models.MemberProfile
	upserts int
	touches int

	failUpsert func(userID string) error
	failGet    error
}

func newMemProfiles(ps ...models.MemberProfile) *memProfiles {
	m := &memProfiles{rows: map[string]models.MemberProfile{}}
	for _, p := range ps {
		m.rows[p.UserID] = p
	}
	return m
}

func (m *memProfiles) GetByUserID(_ context.Context, userID string) (*models.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	p, ok := m.rows[userID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &p, nil
}

func (m *memProfiles) Create(_ context.Context, p *models.MemberProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.UserID]; !ok {
		m.rows[p.UserID] = *p
	}
	return nil
}

func (m *memProfiles) Upsert(_ context.Context, p *models.MemberProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		if err := m.failUpsert(p.UserID); err != nil {
			return err
		}
	}
	m.upserts++
	m.rows[p.UserID] = *p
	return nil
}

func (m *memProfiles) TouchSync(_ context.Context, userID string, at time.Time, refreshToken *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		return utils.ErrNotFound
	}
	m.touches++
	p.PatreonLastSyncAt = &at
	if refreshToken != nil {
		rt := *refreshToken
		p.PatreonRefreshToken = &rt
	}
	m.rows[userID] = p
	return nil
}

func (m *memProfiles) FillEmail(_ context.Context, userID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok || p.Email != nil {
		return false, nil
	}
	p.Email = &email
	m.rows[userID] = p
	return true, nil
}

func (m *memProfiles) UpdateRole(_ context.Context, userID string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[userID]
	if !ok {
		return utils.ErrNotFound
	}
	p.Role = role
	m.rows[userID] = p
	return nil
}

func (m *memProfiles) ListLinked(_ context.Context) ([]models.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemberProfile
	for _, p := range m.rows {
		if p.Linked() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memProfiles) ListByUserIDs(_ context.Context, ids []string) ([]models.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemberProfile
	for _, id := range ids {
		if p, ok := m.rows[id]; ok {
			out = append(out, p)
		}
	}
	// deliberately unordered relative to ids
	sort.Slice(out, func(i, j int) bool { return out[i].UserID > out[j].UserID })
	return out, nil
}

func (m *memProfiles) List(_ context.Context, limit, offset int) ([]models.MemberProfile, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MemberProfile
	for _, p := range m.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memProfiles) get(userID string) models.MemberProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[userID]
}

type memAudit struct {
	mu      sync.Mutex
	changes []models.RoleChange
}

func (a *memAudit) Create(_ context.Context, rc *models.RoleChange) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changes = append(a.changes, *rc)
	return nil
}

func (a *memAudit) ListByUserID(_ context.Context, userID string, _ int) ([]models.RoleChange, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.RoleChange
	for _, c := range a.changes {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

type memRuns struct {
	runs []models.SyncRun
}

func (r *memRuns) Insert(_ context.Context, run *models.SyncRun) error {
	r.runs = append(r.runs, *run)
	return nil
}

func (r *memRuns) GetByRunID(_ context.Context, runID string) (*models.SyncRun, error) {
	for i := range r.runs {
		if r.runs[i].RunID == runID {
			return &r.runs[i], nil
		}
	}
	return nil, utils.ErrNotFound
}

func (r *memRuns) ListRecent(_ context.Context, _ int64) ([]models.SyncRun, error) {
	return r.runs, nil
}

// memCache implements cache.Cache and cache.Claimer.
type memCache struct {
	mu       sync.Mutex
	vals     map[string]any
	claimed  map[string]bool
	claimErr error
	deleted  []string
}

func newMemCache() *memCache {
	return &memCache{vals: map[string]any{}, claimed: map[string]bool{}}
}

func (c *memCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.vals[key]
	if !ok {
		return false, nil
	}
	if r, ok := dst.(*models.Role); ok {
		*r = v.(models.Role)
		return true, nil
	}
	return false, errors.New("unsupported type")
}

func (c *memCache) SetJSON(_ context.Context, key string, val any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals[key] = val
	return nil
}

func (c *memCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.vals, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memCache) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return false, c.claimErr
	}
	if c.claimed[key] {
		return false, nil
	}
	c.claimed[key] = true
	return true, nil
}

// fakeClient implements MembershipClient with function fields.
type fakeClient struct {
	exchange func(ctx context.Context, code string) (*patreon.Tokens, error)
	refresh  func(ctx context.Context, rt string) (*patreon.Tokens, error)
	fetch    func(ctx context.Context, at, campaignID string) (*patreon.Snapshot, error)

	exchangeCalls int
	fetchCalls    int
}

func (f *fakeClient) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeClient) ExchangeCode(ctx context.Context, code string) (*patreon.Tokens, error) {
	f.exchangeCalls++
	return f.exchange(ctx, code)
}

func (f *fakeClient) RefreshAccessToken(ctx context.Context, rt string) (*patreon.Tokens, error) {
	return f.refresh(ctx, rt)
}

func (f *fakeClient) FetchMembership(ctx context.Context, at, campaignID string) (*patreon.Snapshot, error) {
	f.fetchCalls++
	return f.fetch(ctx, at, campaignID)
}

func sp(s string) *string { return &s }

func fixedNow() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
