package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
)

// MemoryStore is an in-process Store. Transactions stage their writes and apply
// them on commit, so a failed WithinMeter leaves no trace.
type MemoryStore struct {
	mu sync.RWMutex

	meters   map[string]*db.Meter
	users    map[uuid.UUID]*db.User
	readings map[string][]db.Reading
	bills    map[uuid.UUID]*db.Bill
	prepays  map[uuid.UUID]*db.Prepay

	// insertion order per account
	billOrder   map[string][]uuid.UUID
	prepayOrder map[string][]uuid.UUID

	locks *keyedMutex
	now   func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meters:      make(map[string]*db.Meter),
		users:       make(map[uuid.UUID]*db.User),
		readings:    make(map[string][]db.Reading),
		bills:       make(map[uuid.UUID]*db.Bill),
		prepays:     make(map[uuid.UUID]*db.Prepay),
		billOrder:   make(map[string][]uuid.UUID),
		prepayOrder: make(map[string][]uuid.UUID),
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

// PutMeter registers or replaces a meter. Registration lives outside the ledger,
// this exists for seeding.
func (s *MemoryStore) PutMeter(m db.Meter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.meters[m.AccountNumber] = &m
}

// PutUser registers or replaces a user.
func (s *MemoryStore) PutUser(u db.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = &u
}

func (s *MemoryStore) GetMeter(_ context.Context, accountNumber string) (*db.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meters[accountNumber]
	if !ok {
		return nil, fmt.Errorf("meter %q: %w", accountNumber, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*db.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetBill(_ context.Context, id uuid.UUID) (*db.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bills[id]
	if !ok {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) GetPrepay(_ context.Context, id uuid.UUID) (*db.Prepay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prepays[id]
	if !ok {
		return nil, fmt.Errorf("prepay %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListReadings(_ context.Context, accountNumber string) ([]db.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.meters[accountNumber]; !ok {
		return nil, fmt.Errorf("meter %q: %w", accountNumber, ErrNotFound)
	}
	out := make([]db.Reading, len(s.readings[accountNumber]))
	copy(out, s.readings[accountNumber])
	return out, nil
}

func (s *MemoryStore) ListBills(_ context.Context, accountNumber string, status db.Status) ([]db.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.meters[accountNumber]; !ok {
		return nil, fmt.Errorf("meter %q: %w", accountNumber, ErrNotFound)
	}
	out := make([]db.Bill, 0)
	for _, id := range s.billOrder[accountNumber] {
		b := s.bills[id]
		if status == "" || b.Status == status {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPrepays(_ context.Context, accountNumber string, status db.Status) ([]db.Prepay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.meters[accountNumber]; !ok {
		return nil, fmt.Errorf("meter %q: %w", accountNumber, ErrNotFound)
	}
	out := make([]db.Prepay, 0)
	for _, id := range s.prepayOrder[accountNumber] {
		p := s.prepays[id]
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertBills(_ context.Context, bills []db.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range bills {
		if _, ok := s.meters[b.AccountNumber]; !ok {
			return fmt.Errorf("meter %q: %w", b.AccountNumber, ErrNotFound)
		}
		if _, ok := s.bills[b.ID]; ok {
			return fmt.Errorf("bill %s: %w", b.ID, ErrAlreadyExists)
		}
	}
	for _, b := range bills {
		cp := b
		s.bills[b.ID] = &cp
		s.billOrder[b.AccountNumber] = append(s.billOrder[b.AccountNumber], b.ID)
	}
	return nil
}

func (s *MemoryStore) WithinMeter(ctx context.Context, accountNumber string, fn func(tx MeterTx) error) error {
	unlock := s.locks.Lock(accountNumber)
	defer unlock()

	m, err := s.GetMeter(ctx, accountNumber)
	if err != nil {
		return err
	}
	tx := &memoryTx{store: s, meter: *m}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := tx.meter.AccountNumber
	meter := tx.meter
	s.meters[account] = &meter
	s.readings[account] = append(s.readings[account], tx.readings...)
	for i := range tx.bills {
		b := tx.bills[i]
		s.bills[b.ID] = &b
		s.billOrder[account] = append(s.billOrder[account], b.ID)
	}
	for i := range tx.prepays {
		p := tx.prepays[i]
		s.prepays[p.ID] = &p
		s.prepayOrder[account] = append(s.prepayOrder[account], p.ID)
	}
	for id, at := range tx.paidBills {
		if b, ok := s.bills[id]; ok {
			paidAt := at
			b.Status = db.StatusPaid
			b.PaidAt = &paidAt
		}
	}
	for id, at := range tx.paidPrepays {
		if p, ok := s.prepays[id]; ok {
			paidAt := at
			p.Status = db.StatusPaid
			p.PaidAt = &paidAt
		}
	}
}

type memoryTx struct {
	store *MemoryStore
	meter db.Meter

	readings    []db.Reading
	bills       []db.Bill
	prepays     []db.Prepay
	paidBills   map[uuid.UUID]time.Time
	paidPrepays map[uuid.UUID]time.Time
}

func (t *memoryTx) Meter() db.Meter { return t.meter }

func (t *memoryTx) LastReading(_ context.Context) (*db.Reading, error) {
	if n := len(t.readings); n > 0 {
		r := t.readings[n-1]
		return &r, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	committed := t.store.readings[t.meter.AccountNumber]
	if len(committed) == 0 {
		return nil, nil
	}
	r := committed[len(committed)-1]
	return &r, nil
}

func (t *memoryTx) ReadingForTask(_ context.Context, taskName string) (*db.Reading, error) {
	for _, r := range t.readings {
		if r.TaskName == taskName {
			cp := r
			return &cp, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, r := range t.store.readings[t.meter.AccountNumber] {
		if r.TaskName == taskName {
			cp := r
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) RecentConsumptions(_ context.Context, limit int) ([]int64, error) {
	t.store.mu.RLock()
	all := append([]db.Reading(nil), t.store.readings[t.meter.AccountNumber]...)
	t.store.mu.RUnlock()
	all = append(all, t.readings...)

	out := make([]int64, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i].Consumption)
	}
	return out, nil
}

func (t *memoryTx) Bill(_ context.Context, id uuid.UUID) (*db.Bill, error) {
	for _, b := range t.bills {
		if b.ID == id {
			cp := b
			t.applyBillPaid(&cp)
			return &cp, nil
		}
	}
	t.store.mu.RLock()
	b, ok := t.store.bills[id]
	var cp db.Bill
	if ok {
		cp = *b
	}
	t.store.mu.RUnlock()
	if !ok || cp.AccountNumber != t.meter.AccountNumber {
		return nil, fmt.Errorf("bill %s: %w", id, ErrNotFound)
	}
	t.applyBillPaid(&cp)
	return &cp, nil
}

func (t *memoryTx) applyBillPaid(b *db.Bill) {
	if at, ok := t.paidBills[b.ID]; ok {
		b.Status = db.StatusPaid
		b.PaidAt = &at
	}
}

func (t *memoryTx) Prepay(_ context.Context, id uuid.UUID) (*db.Prepay, error) {
	for _, p := range t.prepays {
		if p.ID == id {
			cp := p
			t.applyPrepayPaid(&cp)
			return &cp, nil
		}
	}
	t.store.mu.RLock()
	p, ok := t.store.prepays[id]
	var cp db.Prepay
	if ok {
		cp = *p
	}
	t.store.mu.RUnlock()
	if !ok || cp.AccountNumber != t.meter.AccountNumber {
		return nil, fmt.Errorf("prepay %s: %w", id, ErrNotFound)
	}
	t.applyPrepayPaid(&cp)
	return &cp, nil
}

func (t *memoryTx) applyPrepayPaid(p *db.Prepay) {
	if at, ok := t.paidPrepays[p.ID]; ok {
		p.Status = db.StatusPaid
		p.PaidAt = &at
	}
}

func (t *memoryTx) InsertReading(ctx context.Context, r *db.Reading) error {
	existing, err := t.ReadingForTask(ctx, r.TaskName)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("reading for task %q: %w", r.TaskName, ErrAlreadyExists)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.AccountNumber = t.meter.AccountNumber
	t.readings = append(t.readings, *r)
	return nil
}

func (t *memoryTx) InsertBill(_ context.Context, b *db.Bill) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.AccountNumber = t.meter.AccountNumber
	t.bills = append(t.bills, *b)
	return nil
}

func (t *memoryTx) InsertPrepay(_ context.Context, p *db.Prepay) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.AccountNumber = t.meter.AccountNumber
	t.prepays = append(t.prepays, *p)
	return nil
}

func (t *memoryTx) MarkBillPaid(ctx context.Context, id uuid.UUID) error {
	if _, err := t.Bill(ctx, id); err != nil {
		return err
	}
	if t.paidBills == nil {
		t.paidBills = make(map[uuid.UUID]time.Time)
	}
	t.paidBills[id] = t.store.now()
	return nil
}

func (t *memoryTx) MarkPrepayPaid(ctx context.Context, id uuid.UUID) error {
	if _, err := t.Prepay(ctx, id); err != nil {
		return err
	}
	if t.paidPrepays == nil {
		t.paidPrepays = make(map[uuid.UUID]time.Time)
	}
	t.paidPrepays[id] = t.store.now()
	return nil
}

func (t *memoryTx) AddBalance(_ context.Context, delta int64) (int64, error) {
	t.meter.Balance += delta
	return t.meter.Balance, nil
}
