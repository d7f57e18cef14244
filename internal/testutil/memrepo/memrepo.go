// Package memrepo はサービス層のテスト用に在庫と貸出リクエストをメモリ上で保持するリポジトリです
// トランザクションは再現しないため、ロールバックの検証はpgtestを使う統合テストで行います
package memrepo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uma-arai/sbcntr-ludoteca/internal/model"
	"github.com/uma-arai/sbcntr-ludoteca/internal/repository"
)

// Store は在庫と貸出リクエストを保持します
type Store struct {
	mu       sync.Mutex
	holdings map[int64]*model.Holding
	loans    map[int64]*model.Loan
	nextID   int64

	// Fail にメソッド名を設定するとそのメソッドがエラーを返します
	Fail map[string]error
}

// New は空のStoreを作成します
func New() *Store {
	return &Store{
		holdings: map[int64]*model.Holding{},
		loans:    map[int64]*model.Loan{},
		Fail:     map[string]error{},
	}
}

// Holdings は HoldingRepository を返します
func (s *Store) Holdings() *HoldingRepository {
	return &HoldingRepository{s: s}
}

// Loans は LoanRepository を返します
func (s *Store) Loans() *LoanRepository {
	return &LoanRepository{s: s}
}

// PutHolding は在庫を直接登録します
func (s *Store) PutHolding(h model.Holding) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == 0 {
		s.nextID++
		h.ID = s.nextID
	}
	s.holdings[h.ID] = &h
	return h.ID
}

// PutLoan は貸出リクエストを直接登録します
func (s *Store) PutLoan(l model.Loan) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		s.nextID++
		l.ID = s.nextID
	}
	if h, ok := s.holdings[l.HoldingID]; ok {
		l.OwnerID = h.OwnerID
		l.GameID = h.GameID
	}
	s.loans[l.ID] = &l
	return l.ID
}

// Holding は在庫の現在値を返します
func (s *Store) Holding(id int64) (model.Holding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[id]
	if !ok {
		return model.Holding{}, false
	}
	return *h, true
}

// Loan は貸出リクエストの現在値を返します
func (s *Store) Loan(id int64) (model.Loan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok {
		return model.Loan{}, false
	}
	return *l, true
}

func (s *Store) fail(method string) error {
	if err, ok := s.Fail[method]; ok {
		return err
	}
	return nil
}

// HoldingRepository は repository.HoldingRepository のメモリ実装です
type HoldingRepository struct {
	s *Store
}

var _ repository.HoldingRepository = (*HoldingRepository)(nil)

func (r *HoldingRepository) Create(ctx context.Context, q repository.Querier, holding *model.Holding) error {
	if err := r.s.fail("Holdings.Create"); err != nil {
		return err
	}
	holding.ID = r.s.PutHolding(*holding)
	return nil
}

func (r *HoldingRepository) Get(ctx context.Context, q repository.Querier, holdingID int64) (*model.Holding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.holdings[holdingID]
	if !ok {
		return nil, model.ErrHoldingNotFound
	}
	copied := *h
	return &copied, nil
}

func (r *HoldingRepository) GetForUpdate(ctx context.Context, q repository.Querier, holdingID int64) (*model.Holding, error) {
	return r.Get(ctx, q, holdingID)
}

func (r *HoldingRepository) DecrementAvailable(ctx context.Context, q repository.Querier, holdingID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Holdings.DecrementAvailable"); err != nil {
		return err
	}
	h, ok := r.s.holdings[holdingID]
	if !ok {
		return model.ErrHoldingNotFound
	}
	if h.AvailableCopies <= 0 {
		return model.ErrNoCopiesAvailable
	}
	h.AvailableCopies--
	return nil
}

func (r *HoldingRepository) IncrementAvailable(ctx context.Context, q repository.Querier, holdingID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Holdings.IncrementAvailable"); err != nil {
		return err
	}
	h, ok := r.s.holdings[holdingID]
	if !ok {
		return model.ErrHoldingNotFound
	}
	if h.AvailableCopies >= h.TotalCopies {
		return model.ErrAlreadyAtCapacity
	}
	h.AvailableCopies++
	return nil
}

func (r *HoldingRepository) Resize(ctx context.Context, q repository.Querier, holdingID int64, newTotal int) (*model.Holding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.holdings[holdingID]
	if !ok {
		return nil, model.ErrHoldingNotFound
	}
	if newTotal < h.LentOut() {
		return nil, model.ErrBelowOutstandingLoans
	}
	h.AvailableCopies += newTotal - h.TotalCopies
	h.TotalCopies = newTotal
	copied := *h
	return &copied, nil
}

func (r *HoldingRepository) Delete(ctx context.Context, q repository.Querier, holdingID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.holdings[holdingID]; !ok {
		return model.ErrHoldingNotFound
	}
	delete(r.s.holdings, holdingID)
	for id, l := range r.s.loans {
		if l.HoldingID == holdingID {
			delete(r.s.loans, id)
		}
	}
	return nil
}

// LoanRepository は repository.LoanRepository のメモリ実装です
type LoanRepository struct {
	s *Store
}

var _ repository.LoanRepository = (*LoanRepository)(nil)

func (r *LoanRepository) Create(ctx context.Context, q repository.Querier, loan *model.Loan) error {
	if err := r.s.fail("Loans.Create"); err != nil {
		return err
	}
	loan.ID = r.s.PutLoan(*loan)
	stored, _ := r.s.Loan(loan.ID)
	loan.OwnerID = stored.OwnerID
	loan.GameID = stored.GameID
	return nil
}

func (r *LoanRepository) Get(ctx context.Context, q repository.Querier, loanID int64) (*model.Loan, error) {
	l, ok := r.s.Loan(loanID)
	if !ok {
		return nil, model.ErrLoanNotFound
	}
	return &l, nil
}

func (r *LoanRepository) GetForUpdate(ctx context.Context, q repository.Querier, loanID int64) (*model.Loan, error) {
	return r.Get(ctx, q, loanID)
}

func (r *LoanRepository) UpdateStatus(ctx context.Context, q repository.Querier, loanID int64, from, to model.LoanStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Loans.UpdateStatus"); err != nil {
		return err
	}
	l, ok := r.s.loans[loanID]
	if !ok || l.Status != from {
		return fmt.Errorf("no loan %d found with status %s", loanID, from)
	}
	l.Status = to
	return nil
}

func (r *LoanRepository) CountActiveByHolding(ctx context.Context, q repository.Querier, holdingID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, l := range r.s.loans {
		if l.HoldingID == holdingID && l.Status.IsActive() {
			n++
		}
	}
	return n, nil
}

func (r *LoanRepository) ListByBorrower(ctx context.Context, q repository.Querier, borrowerID int64) ([]model.Loan, error) {
	return r.filter(func(l *model.Loan) bool { return l.BorrowerID == borrowerID }), nil
}

func (r *LoanRepository) ListByHolding(ctx context.Context, q repository.Querier, holdingID int64) ([]model.Loan, error) {
	return r.filter(func(l *model.Loan) bool { return l.HoldingID == holdingID }), nil
}

func (r *LoanRepository) ListRequestedBefore(ctx context.Context, q repository.Querier, before time.Time) ([]model.Loan, error) {
	if err := r.s.fail("Loans.ListRequestedBefore"); err != nil {
		return nil, err
	}
	return r.filter(func(l *model.Loan) bool {
		return l.Status == model.LoanStatusRequested && l.StartDate.Before(before)
	}), nil
}

func (r *LoanRepository) filter(keep func(l *model.Loan) bool) []model.Loan {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	loans := []model.Loan{}
	for _, l := range r.s.loans {
		if keep(l) {
			loans = append(loans, *l)
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	return loans
}

// ErrInjected はテストで注入するエラーです
var ErrInjected = errors.New("injected failure")
