// Package repotest provides an in-memory implementation of the repositories
// for tests. Transactions buffer their writes until Commit and hold per-row
// locks taken by the ...ForUpdate reads, so concurrent callers serialize the
// same way they do against Postgres.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
	"github.com/Stellar-cadet-s/kazi-trust/internal/models"
)

// noopTx satisfies pgx.Tx; Tx overrides Commit and Rollback.
type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type Store struct {
	mu        sync.Mutex
	users     map[uuid.UUID]models.User
	jobs      map[uuid.UUID]models.JobListing
	apps      map[uuid.UUID]models.JobApplication
	contracts map[string]models.EscrowContract
	deposits  map[string]models.DepositRecord
	payouts   map[uuid.UUID]models.PayoutRecord
	rowLocks  map[string]*sync.Mutex
	commits   int
}

func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]models.User),
		jobs:      make(map[uuid.UUID]models.JobListing),
		apps:      make(map[uuid.UUID]models.JobApplication),
		contracts: make(map[string]models.EscrowContract),
		deposits:  make(map[string]models.DepositRecord),
		payouts:   make(map[uuid.UUID]models.PayoutRecord),
		rowLocks:  make(map[string]*sync.Mutex),
	}
}

// Tx is a buffered transaction over a Store.
type Tx struct {
	noopTx
	s         *Store
	held      map[string]*sync.Mutex
	jobs      map[uuid.UUID]models.JobListing
	apps      map[uuid.UUID]models.JobApplication
	contracts map[string]models.EscrowContract
	deposits  map[string]models.DepositRecord
	payouts   map[uuid.UUID]models.PayoutRecord
	done      bool
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return &Tx{
		s:         s,
		held:      make(map[string]*sync.Mutex),
		jobs:      make(map[uuid.UUID]models.JobListing),
		apps:      make(map[uuid.UUID]models.JobApplication),
		contracts: make(map[string]models.EscrowContract),
		deposits:  make(map[string]models.DepositRecord),
		payouts:   make(map[uuid.UUID]models.PayoutRecord),
	}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.s.mu.Lock()
	for k, v := range t.jobs {
		t.s.jobs[k] = v
	}
	for k, v := range t.apps {
		t.s.apps[k] = v
	}
	for k, v := range t.contracts {
		t.s.contracts[k] = v
	}
	for k, v := range t.deposits {
		t.s.deposits[k] = v
	}
	for k, v := range t.payouts {
		t.s.payouts[k] = v
	}
	t.s.commits++
	t.s.mu.Unlock()
	t.finish()
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *Tx) finish() {
	t.done = true
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

func (t *Tx) lock(key string) {
	if _, ok := t.held[key]; ok {
		return
	}
	t.s.mu.Lock()
	l, ok := t.s.rowLocks[key]
	if !ok {
		l = &sync.Mutex{}
		t.s.rowLocks[key] = l
	}
	t.s.mu.Unlock()
	l.Lock()
	t.held[key] = l
}

func asTx(tx pgx.Tx) *Tx {
	t, ok := tx.(*Tx)
	if !ok {
		panic(fmt.Sprintf("repotest: unexpected tx type %T", tx))
	}
	if t.done {
		panic("repotest: use of finished transaction")
	}
	return t
}

// Commits returns the number of committed transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Users

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("user %s: %w", u.Email, apperr.ErrConflict)
		}
	}
	s.users[u.ID] = *u
	return nil
}

// PutUser inserts or replaces a user without checks.
func (s *Store) PutUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
}

func (s *Store) UpdateContact(ctx context.Context, id uuid.UUID, phone, ledgerAccount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
	}
	u.Phone, u.LedgerAccount = phone, ledgerAccount
	s.users[id] = u
	return nil
}

// Jobs

func (s *Store) CreateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error {
	t := asTx(tx)
	t.jobs[j.ID] = *j
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.JobListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return &j, nil
}

func (s *Store) GetJobForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobListing, error) {
	t := asTx(tx)
	t.lock("job:" + id.String())
	if j, ok := t.jobs[id]; ok {
		return &j, nil
	}
	return s.GetJob(ctx, id)
}

func (s *Store) UpdateJob(ctx context.Context, tx pgx.Tx, j *models.JobListing) error {
	t := asTx(tx)
	t.jobs[j.ID] = *j
	return nil
}

func (s *Store) ListJobsByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.JobListing, error) {
	return s.filterJobs(func(j models.JobListing) bool { return j.EmployerID == employerID }), nil
}

func (s *Store) ListJobsForEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.JobListing, error) {
	return s.filterJobs(func(j models.JobListing) bool {
		return j.Status == models.JobStatusOpen || (j.EmployeeID != nil && *j.EmployeeID == employeeID)
	}), nil
}

func (s *Store) ListAllJobs(ctx context.Context) ([]*models.JobListing, error) {
	return s.filterJobs(func(models.JobListing) bool { return true }), nil
}

func (s *Store) filterJobs(keep func(models.JobListing) bool) []*models.JobListing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.JobListing
	for _, j := range s.jobs {
		if keep(j) {
			j := j
			list = append(list, &j)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.After(list[b].CreatedAt) })
	return list
}

// Applications

func (s *Store) GetApplication(ctx context.Context, tx pgx.Tx, jobID, employeeID uuid.UUID) (*models.JobApplication, error) {
	t := asTx(tx)
	for _, a := range t.apps {
		if a.JobID == jobID && a.EmployeeID == employeeID {
			return &a, nil
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.apps {
		if a.JobID == jobID && a.EmployeeID == employeeID {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("application %s/%s: %w", jobID, employeeID, apperr.ErrNotFound)
}

func (s *Store) CreateApplication(ctx context.Context, tx pgx.Tx, a *models.JobApplication) error {
	if _, err := s.GetApplication(ctx, tx, a.JobID, a.EmployeeID); err == nil {
		return fmt.Errorf("application %s: %w", a.ID, apperr.ErrConflict)
	}
	asTx(tx).apps[a.ID] = *a
	return nil
}

func (s *Store) UpdateApplication(ctx context.Context, tx pgx.Tx, a *models.JobApplication) error {
	asTx(tx).apps[a.ID] = *a
	return nil
}

func (s *Store) ListApplicationsByJob(ctx context.Context, jobID uuid.UUID) ([]*models.JobApplication, error) {
	return s.filterApps(func(a models.JobApplication) bool { return a.JobID == jobID }), nil
}

func (s *Store) ListApplicationsByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.JobApplication, error) {
	return s.filterApps(func(a models.JobApplication) bool { return a.EmployeeID == employeeID }), nil
}

func (s *Store) filterApps(keep func(models.JobApplication) bool) []*models.JobApplication {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.JobApplication
	for _, a := range s.apps {
		if keep(a) {
			a := a
			list = append(list, &a)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// Contracts

func (s *Store) CreateContract(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error {
	t := asTx(tx)
	if _, err := s.GetContract(ctx, c.ID); err == nil {
		return fmt.Errorf("contract %s: %w", c.ID, apperr.ErrConflict)
	}
	t.contracts[c.ID] = *c
	return nil
}

func (s *Store) GetContract(ctx context.Context, id string) (*models.EscrowContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, apperr.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) GetContractForUpdate(ctx context.Context, tx pgx.Tx, id string) (*models.EscrowContract, error) {
	t := asTx(tx)
	if c, ok := t.contracts[id]; ok {
		return &c, nil
	}
	if _, err := s.GetContract(ctx, id); err != nil {
		return nil, err
	}
	t.lock("contract:" + id)
	return s.GetContract(ctx, id)
}

func (s *Store) UpdateContract(ctx context.Context, tx pgx.Tx, c *models.EscrowContract) error {
	asTx(tx).contracts[c.ID] = *c
	return nil
}

// Deposits

func (s *Store) GetDepositByRef(ctx context.Context, tx pgx.Tx, providerRef string) (*models.DepositRecord, error) {
	t := asTx(tx)
	if d, ok := t.deposits[providerRef]; ok {
		return &d, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[providerRef]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", providerRef, apperr.ErrNotFound)
	}
	return &d, nil
}

func (s *Store) CreateDeposit(ctx context.Context, tx pgx.Tx, d *models.DepositRecord) error {
	if _, err := s.GetDepositByRef(ctx, tx, d.ProviderRef); err == nil {
		return fmt.Errorf("deposit %s: %w", d.ProviderRef, apperr.ErrConflict)
	}
	asTx(tx).deposits[d.ProviderRef] = *d
	return nil
}

func (s *Store) UpdateDeposit(ctx context.Context, tx pgx.Tx, d *models.DepositRecord) error {
	asTx(tx).deposits[d.ProviderRef] = *d
	return nil
}

// Deposits returns every committed deposit for a contract.
func (s *Store) Deposits(contractID string) []models.DepositRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.DepositRecord
	for _, d := range s.deposits {
		if d.ContractID == contractID {
			list = append(list, d)
		}
	}
	return list
}

func (s *Store) ListDepositsByEmployer(ctx context.Context, employerID uuid.UUID) ([]*models.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.DepositRecord
	for _, d := range s.deposits {
		if c, ok := s.contracts[d.ContractID]; ok && c.EmployerID == employerID {
			d := d
			list = append(list, &d)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

// Payouts

func (s *Store) CreatePayout(ctx context.Context, tx pgx.Tx, p *models.PayoutRecord) error {
	if _, err := s.GetPayoutByContract(ctx, p.ContractID); err == nil {
		return fmt.Errorf("payout %s: %w", p.ContractID, apperr.ErrConflict)
	}
	asTx(tx).payouts[p.ID] = *p
	return nil
}

func (s *Store) GetPayout(ctx context.Context, id uuid.UUID) (*models.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, fmt.Errorf("payout %s: %w", id, apperr.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) GetPayoutByContract(ctx context.Context, contractID string) (*models.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.ContractID == contractID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("payout %s: %w", contractID, apperr.ErrNotFound)
}

func (s *Store) UpdatePayout(ctx context.Context, p *models.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[p.ID]; !ok {
		return fmt.Errorf("payout %s: %w", p.ID, apperr.ErrNotFound)
	}
	s.payouts[p.ID] = *p
	return nil
}

func (s *Store) ListPayoutsByEmployee(ctx context.Context, employeeID uuid.UUID) ([]*models.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.PayoutRecord
	for _, p := range s.payouts {
		if p.EmployeeID == employeeID {
			p := p
			list = append(list, &p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}
