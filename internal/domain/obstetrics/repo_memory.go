package obstetrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =========== In-memory Case Repository ===========

type caseRepoMemory struct {
	mu    sync.RWMutex
	cases map[uuid.UUID]*PatientCase
}

func NewCaseRepoMemory() CaseRepository {
	return &caseRepoMemory{cases: make(map[uuid.UUID]*PatientCase)}
}

func (m *caseRepoMemory) Create(_ context.Context, c *PatientCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	cp := *c
	m.cases[c.ID] = &cp
	return nil
}

func (m *caseRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*PatientCase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *caseRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[id]; !ok {
		return ErrNotFound
	}
	delete(m.cases, id)
	return nil
}

func (m *caseRepoMemory) List(_ context.Context, limit, offset int) ([]*PatientCase, int, error) {
	m.mu.RLock()
	all := make([]*PatientCase, 0, len(m.cases))
	for _, c := range m.cases {
		cp := *c
		all = append(all, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// =========== In-memory Pregnancy Record Repository ===========

type recordRepoMemory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*PregnancyRecord
}

func NewRecordRepoMemory() PregnancyRecordRepository {
	return &recordRepoMemory{records: make(map[uuid.UUID]*PregnancyRecord)}
}

func (m *recordRepoMemory) Create(_ context.Context, r *PregnancyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	m.records[r.ID] = r.clone()
	return nil
}

func (m *recordRepoMemory) GetByID(_ context.Context, id uuid.UUID) (*PregnancyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *recordRepoMemory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *recordRepoMemory) ListByCase(_ context.Context, caseID uuid.UUID) ([]*PregnancyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*PregnancyRecord
	for _, r := range m.records {
		if r.CaseID == caseID {
			result = append(result, r.clone())
		}
	}
	return result, nil
}

func (m *recordRepoMemory) DeleteByCase(_ context.Context, caseID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.CaseID == caseID {
			delete(m.records, id)
		}
	}
	return nil
}

// =========== In-memory Case Locker ===========

type caseLock struct {
	mu   sync.Mutex
	refs int
}

// memoryCaseLocker is a keyed mutex; entries are dropped once no caller
// holds or waits on them.
type memoryCaseLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*caseLock
}

func NewMemoryCaseLocker() CaseLocker {
	return &memoryCaseLocker{locks: make(map[uuid.UUID]*caseLock)}
}

func (l *memoryCaseLocker) WithCaseLock(ctx context.Context, caseID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lk, ok := l.locks[caseID]
	if !ok {
		lk = &caseLock{}
		l.locks[caseID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, caseID)
		}
		l.mu.Unlock()
	}()

	lk.mu.Lock()
	defer lk.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
