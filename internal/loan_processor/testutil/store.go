// Package testutil provides an in-memory implementation of the loan
// repositories and of persistence.TxRunner. It is imported only from
// _test.go files. A failed ExecuteTx restores the state it started from,
// like a database rollback.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/microloan-ledger/internal/domain/ledger"
	"github.com/microloan-ledger/internal/domain/loan"
	"github.com/microloan-ledger/internal/domain/outbox"
	"github.com/microloan-ledger/internal/domain/payment"
	"github.com/microloan-ledger/internal/domain/shared"
	"github.com/microloan-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

var _ persistence.TxRunner = (*Store)(nil)

// Store holds every table in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	loans    map[uuid.UUID]loan.Loan
	links    []loan.RefinanceLink
	entries  []ledger.Entry
	payments []payment.Payment
	messages []outbox.Message
	seq      int64
	outboxID int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{loans: make(map[uuid.UUID]loan.Loan)}
}

type snapshot struct {
	loans    map[uuid.UUID]loan.Loan
	links    []loan.RefinanceLink
	entries  []ledger.Entry
	payments []payment.Payment
	messages []outbox.Message
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loans := make(map[uuid.UUID]loan.Loan, len(s.loans))
	for id, l := range s.loans {
		loans[id] = l
	}
	return snapshot{
		loans:    loans,
		links:    append([]loan.RefinanceLink(nil), s.links...),
		entries:  append([]ledger.Entry(nil), s.entries...),
		payments: append([]payment.Payment(nil), s.payments...),
		messages: append([]outbox.Message(nil), s.messages...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loans = snap.loans
	s.links = snap.links
	s.entries = snap.entries
	s.payments = snap.payments
	s.messages = snap.messages
}

// ExecuteTx runs fn with a nil transaction. Repositories ignore the tx.
// Transactions are serialized.
func (s *Store) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Loans returns the loan repository.
func (s *Store) Loans() loan.Repository { return &LoanRepository{store: s} }

// Ledger returns the ledger repository.
func (s *Store) Ledger() ledger.Repository { return &LedgerRepository{store: s} }

// Payments returns the payment repository.
func (s *Store) Payments() payment.Repository { return &PaymentRepository{store: s} }

// Outbox returns the outbox repository.
func (s *Store) Outbox() outbox.Repository { return &OutboxRepository{store: s} }

// Entries returns a loan's entries in canonical order.
func (s *Store) Entries(loanID uuid.UUID) []*ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked(loanID, false)
}

// Messages returns every staged outbox message in insertion order.
func (s *Store) Messages() []*outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*outbox.Message, 0, len(s.messages))
	for i := range s.messages {
		m := s.messages[i]
		out = append(out, &m)
	}
	return out
}

// EventTypes lists the staged event types in insertion order.
func (s *Store) EventTypes() []shared.EventType {
	var types []shared.EventType
	for _, m := range s.Messages() {
		types = append(types, m.EventType)
	}
	return types
}

// PutLoan stores a loan as is, bypassing version checks.
func (s *Store) PutLoan(l *loan.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[l.ID] = *l
}

// Loan returns the stored copy of a loan, or nil.
func (s *Store) Loan(id uuid.UUID) *loan.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return nil
	}
	return &l
}

func (s *Store) entriesLocked(loanID uuid.UUID, desc bool) []*ledger.Entry {
	var out []*ledger.Entry
	for i := range s.entries {
		if s.entries[i].LoanID == loanID {
			e := s.entries[i]
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return entryLess(out[j], out[i])
		}
		return entryLess(out[i], out[j])
	})
	return out
}

func entryLess(a, b *ledger.Entry) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.Seq < b.Seq
}

// LoanRepository is the in-memory loan.Repository.
type LoanRepository struct{ store *Store }

func (r *LoanRepository) WithTx(pgx.Tx) loan.Repository { return r }

func (r *LoanRepository) Create(_ context.Context, l *loan.Loan) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.loans[l.ID] = *l
	return nil
}

func (r *LoanRepository) GetByID(_ context.Context, id uuid.UUID) (*loan.Loan, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	l, ok := r.store.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound{LoanID: id}
	}
	return &l, nil
}

func (r *LoanRepository) GetManyByClient(_ context.Context, clientID uuid.UUID, ids []uuid.UUID) ([]*loan.Loan, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*loan.Loan
	for _, id := range ids {
		if l, ok := r.store.loans[id]; ok && l.ClientID == clientID {
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (r *LoanRepository) Update(_ context.Context, l *loan.Loan) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.loans[l.ID]
	if !ok || stored.Version != l.Version {
		return loan.ErrConcurrentModification{LoanID: l.ID}
	}
	l.Version++
	r.store.loans[l.ID] = *l
	return nil
}

func (r *LoanRepository) ListIDsByStatus(_ context.Context, status loan.Status, limit, offset int) ([]uuid.UUID, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var ids []uuid.UUID
	for id, l := range r.store.loans {
		if l.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return page(ids, limit, offset), nil
}

func (r *LoanRepository) Stats(_ context.Context) (*loan.PortfolioStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stats := &loan.PortfolioStats{}
	for _, l := range r.store.loans {
		if l.Status == loan.StatusActive {
			stats.ActiveLoans++
			stats.PortfolioBalance = stats.PortfolioBalance.Add(l.BalanceTotal)
		}
	}
	return stats, nil
}

func (r *LoanRepository) CreateRefinanceLink(_ context.Context, link *loan.RefinanceLink) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.links = append(r.store.links, *link)
	return nil
}

func (r *LoanRepository) ListRefinanceLinks(_ context.Context, newLoanID uuid.UUID) ([]*loan.RefinanceLink, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*loan.RefinanceLink
	for i := range r.store.links {
		if r.store.links[i].NewLoanID == newLoanID {
			link := r.store.links[i]
			out = append(out, &link)
		}
	}
	return out, nil
}

// LedgerRepository is the in-memory ledger.Repository.
type LedgerRepository struct{ store *Store }

func (r *LedgerRepository) WithTx(pgx.Tx) ledger.Repository { return r }

func (r *LedgerRepository) Create(_ context.Context, entry *ledger.Entry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.seq++
	entry.Seq = r.store.seq
	r.store.entries = append(r.store.entries, *entry)
	return nil
}

func (r *LedgerRepository) ListByLoan(_ context.Context, loanID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return page(r.store.entriesLocked(loanID, false), limit, offset), nil
}

func (r *LedgerRepository) CountByLoan(_ context.Context, loanID uuid.UUID) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return int64(len(r.store.entriesLocked(loanID, false))), nil
}

func (r *LedgerRepository) ListFrom(_ context.Context, loanID uuid.UUID, from time.Time, inclusive bool) ([]*ledger.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*ledger.Entry
	for _, e := range r.store.entriesLocked(loanID, true) {
		if e.OccurredAt.After(from) || (inclusive && e.OccurredAt.Equal(from)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *LedgerRepository) ExistsAfter(_ context.Context, loanID uuid.UUID, after time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, e := range r.store.entries {
		if e.LoanID == loanID && e.OccurredAt.After(after) {
			return true, nil
		}
	}
	return false, nil
}

func (r *LedgerRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for i := range r.store.entries {
		if r.store.entries[i].ID == id {
			r.store.entries = append(r.store.entries[:i], r.store.entries[i+1:]...)
			return nil
		}
	}
	return ledger.ErrEntryNotFound{EntryID: id}
}

func (r *LedgerRepository) AttachPayment(_ context.Context, entryID, paymentID uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for i := range r.store.entries {
		if r.store.entries[i].ID == entryID {
			id := paymentID
			r.store.entries[i].PaymentID = &id
			return nil
		}
	}
	return ledger.ErrEntryNotFound{EntryID: entryID}
}

func (r *LedgerRepository) LatestOccurredAt(_ context.Context, loanID uuid.UUID, exclude ...ledger.EntryType) (*time.Time, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var latest *time.Time
	for _, e := range r.store.entries {
		if e.LoanID != loanID || excluded(e.Type, exclude) {
			continue
		}
		if latest == nil || e.OccurredAt.After(*latest) {
			at := e.OccurredAt
			latest = &at
		}
	}
	return latest, nil
}

func (r *LedgerRepository) LatestOccurredAtOfType(_ context.Context, loanID uuid.UUID, typ ledger.EntryType) (*time.Time, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var latest *time.Time
	for _, e := range r.store.entries {
		if e.LoanID != loanID || e.Type != typ {
			continue
		}
		if latest == nil || e.OccurredAt.After(*latest) {
			at := e.OccurredAt
			latest = &at
		}
	}
	return latest, nil
}

func (r *LedgerRepository) SumAmountByType(_ context.Context, loanID uuid.UUID, typ ledger.EntryType) (decimal.Decimal, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	sum := decimal.Zero
	for _, e := range r.store.entries {
		if e.LoanID == loanID && e.Type == typ {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (r *LedgerRepository) SumDeltas(_ context.Context, loanID uuid.UUID) (ledger.Totals, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var totals ledger.Totals
	for i := range r.store.entries {
		if r.store.entries[i].LoanID == loanID {
			totals = totals.Add(r.store.entries[i].Deltas())
		}
	}
	return totals, nil
}

func (r *LedgerRepository) SumDeltasByTypeBetween(_ context.Context, typ ledger.EntryType, from, to time.Time) (ledger.Totals, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var totals ledger.Totals
	for i := range r.store.entries {
		e := &r.store.entries[i]
		if e.Type == typ && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			totals = totals.Add(e.Deltas())
		}
	}
	return totals, nil
}

// PaymentRepository is the in-memory payment.Repository.
type PaymentRepository struct{ store *Store }

func (r *PaymentRepository) WithTx(pgx.Tx) payment.Repository { return r }

func (r *PaymentRepository) Create(_ context.Context, p *payment.Payment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.seq++
	p.Seq = r.store.seq
	r.store.payments = append(r.store.payments, *p)
	return nil
}

func (r *PaymentRepository) GetByID(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for i := range r.store.payments {
		if r.store.payments[i].ID == id {
			p := r.store.payments[i]
			return &p, nil
		}
	}
	return nil, payment.ErrPaymentNotFound{PaymentID: id}
}

func (r *PaymentRepository) ListByLoan(_ context.Context, loanID uuid.UUID) ([]*payment.Payment, error) {
	return r.list(loanID, func(*payment.Payment) bool { return true }), nil
}

func (r *PaymentRepository) CountByLoan(_ context.Context, loanID uuid.UUID) (int64, error) {
	return int64(len(r.list(loanID, func(*payment.Payment) bool { return true }))), nil
}

func (r *PaymentRepository) ListFrom(_ context.Context, loanID uuid.UUID, from time.Time, inclusive bool, excludeID uuid.UUID) ([]*payment.Payment, error) {
	return r.list(loanID, func(p *payment.Payment) bool {
		if p.ID == excludeID {
			return false
		}
		return p.PaidAt.After(from) || (inclusive && p.PaidAt.Equal(from))
	}), nil
}

func (r *PaymentRepository) DeleteByIDs(_ context.Context, ids []uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.store.payments[:0]
	for _, p := range r.store.payments {
		if !drop[p.ID] {
			kept = append(kept, p)
		}
	}
	r.store.payments = kept
	return nil
}

func (r *PaymentRepository) list(loanID uuid.UUID, keep func(*payment.Payment) bool) []*payment.Payment {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*payment.Payment
	for i := range r.store.payments {
		p := r.store.payments[i]
		if p.LoanID == loanID && keep(&p) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].PaidAt.Before(out[j].PaidAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// OutboxRepository is the in-memory outbox.Repository.
type OutboxRepository struct{ store *Store }

func (r *OutboxRepository) WithTx(pgx.Tx) outbox.Repository { return r }

func (r *OutboxRepository) Create(_ context.Context, m *outbox.Message) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, existing := range r.store.messages {
		if existing.EventID == m.EventID {
			return outbox.ErrDuplicateMessage{EventID: m.EventID}
		}
	}
	r.store.outboxID++
	m.ID = r.store.outboxID
	r.store.messages = append(r.store.messages, *m)
	return nil
}

func (r *OutboxRepository) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var out []*outbox.Message
	for i := range r.store.messages {
		if r.store.messages[i].Status == shared.OutboxStatusPending {
			m := r.store.messages[i]
			out = append(out, &m)
		}
	}
	return page(out, limit, 0), nil
}

func (r *OutboxRepository) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	return r.mutate(id, func(m *outbox.Message) { m.Status = status })
}

func (r *OutboxRepository) IncrementAttempts(_ context.Context, id int64) error {
	return r.mutate(id, func(m *outbox.Message) { m.IncrementAttempts() })
}

func (r *OutboxRepository) GetByEventID(_ context.Context, eventID uuid.UUID) (*outbox.Message, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for i := range r.store.messages {
		if r.store.messages[i].EventID == eventID {
			m := r.store.messages[i]
			return &m, nil
		}
	}
	return nil, outbox.ErrMessageNotFound{ID: 0}
}

func (r *OutboxRepository) mutate(id int64, fn func(m *outbox.Message)) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for i := range r.store.messages {
		if r.store.messages[i].ID == id {
			fn(&r.store.messages[i])
			return nil
		}
	}
	return outbox.ErrMessageNotFound{ID: id}
}

func excluded(t ledger.EntryType, exclude []ledger.EntryType) bool {
	for _, x := range exclude {
		if t == x {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
