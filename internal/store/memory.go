package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fxmargin/internal/model"

	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Each account has its own mutex, so
// different accounts commit in parallel.
type Memory struct {
	mu          sync.RWMutex
	accounts    map[string]model.TradingAccount
	byUser      map[string]string
	positions   map[string]model.Position
	orders      []model.Order
	trades      []model.Trade
	marginCalls map[string]model.MarginCall
	callOrder   []string
	alerts      map[string]model.PriceAlert
	alertOrder  []string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		accounts:    map[string]model.TradingAccount{},
		byUser:      map[string]string{},
		positions:   map[string]model.Position{},
		marginCalls: map[string]model.MarginCall{},
		alerts:      map[string]model.PriceAlert{},
		locks:       map[string]*sync.Mutex{},
	}
}

func (m *Memory) accountLock(accountID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[accountID] = l
	}
	return l
}

func (m *Memory) InAccountTx(ctx context.Context, accountID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	_, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	tx := &memTx{
		m:         m,
		accountID: accountID,
		positions: map[string]model.Position{},
		calls:     map[string]model.MarginCall{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.commit(tx)
	return nil
}

func (m *Memory) commit(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.account != nil {
		m.accounts[tx.accountID] = *tx.account
	}
	for id, p := range tx.positions {
		m.positions[id] = p
	}
	m.orders = append(m.orders, tx.orders...)
	m.trades = append(m.trades, tx.trades...)
	for _, id := range tx.callOrder {
		if _, exists := m.marginCalls[id]; !exists {
			m.callOrder = append(m.callOrder, id)
		}
		m.marginCalls[id] = tx.calls[id]
	}
}

func (m *Memory) CreateAccount(_ context.Context, acc model.TradingAccount) error {
	if acc.ID == "" || acc.UserID == "" {
		return fmt.Errorf("account id and user id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acc.ID]; ok {
		return ErrConflict
	}
	if _, ok := m.byUser[acc.UserID]; ok {
		return ErrConflict
	}
	m.accounts[acc.ID] = acc
	m.byUser[acc.UserID] = acc.ID
	return nil
}

func (m *Memory) GetAccount(_ context.Context, accountID string) (model.TradingAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[accountID]
	if !ok {
		return model.TradingAccount{}, ErrNotFound
	}
	return acc, nil
}

func (m *Memory) GetAccountByUser(_ context.Context, userID string) (model.TradingAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUser[userID]
	if !ok {
		return model.TradingAccount{}, ErrNotFound
	}
	return m.accounts[id], nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]model.TradingAccount, error) {
	m.mu.RLock()
	out := make([]model.TradingAccount, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	m.mu.RUnlock()
	sortAccounts(out)
	return out, nil
}

func (m *Memory) ListMarginedAccounts(ctx context.Context) ([]model.TradingAccount, error) {
	all, err := m.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, acc := range all {
		if acc.Margin.IsPositive() {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (m *Memory) GetPosition(_ context.Context, positionID string) (model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[positionID]
	if !ok {
		return model.Position{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListOpenPositions(_ context.Context) ([]model.Position, error) {
	m.mu.RLock()
	var out []model.Position
	for _, p := range m.positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return openedBefore(out[i], out[j])
	})
	return out, nil
}

func (m *Memory) ListPositions(_ context.Context, accountID string, filter PositionFilter) ([]model.Position, error) {
	m.mu.RLock()
	var out []model.Position
	for _, p := range m.positions {
		if p.AccountID != accountID {
			continue
		}
		if filter.Open == p.IsOpen() {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	if filter.Open {
		sort.Slice(out, func(i, j int) bool { return openedBefore(out[i], out[j]) })
	} else {
		sort.Slice(out, func(i, j int) bool { return closedAfter(out[i], out[j]) })
	}
	return limitSlice(out, filter.Limit), nil
}

func (m *Memory) ListOrders(_ context.Context, accountID string, limit int) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].AccountID == accountID {
			out = append(out, m.orders[i])
		}
	}
	return limitSlice(out, limit), nil
}

func (m *Memory) ListTrades(_ context.Context, accountID string, limit int) ([]model.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].AccountID == accountID {
			out = append(out, m.trades[i])
		}
	}
	return limitSlice(out, limit), nil
}

func (m *Memory) ListMarginCalls(_ context.Context, accountID string) ([]model.MarginCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.MarginCall
	for _, id := range m.callOrder {
		if mc := m.marginCalls[id]; mc.AccountID == accountID {
			out = append(out, mc)
		}
	}
	return out, nil
}

func (m *Memory) CreatePriceAlert(_ context.Context, a model.PriceAlert) error {
	if a.ID == "" || a.UserID == "" {
		return fmt.Errorf("alert id and user id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; ok {
		return ErrConflict
	}
	m.alerts[a.ID] = a
	m.alertOrder = append(m.alertOrder, a.ID)
	return nil
}

func (m *Memory) GetPriceAlert(_ context.Context, alertID string) (model.PriceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return model.PriceAlert{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListPriceAlerts(_ context.Context, userID string) ([]model.PriceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PriceAlert
	for i := len(m.alertOrder) - 1; i >= 0; i-- {
		if a := m.alerts[m.alertOrder[i]]; a.UserID == userID && !a.Triggered {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) ListPendingPriceAlerts(_ context.Context, now time.Time) ([]model.PriceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.PriceAlert
	for _, id := range m.alertOrder {
		if a := m.alerts[id]; !a.Triggered && !a.Expired(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) MarkPriceAlertTriggered(_ context.Context, alertID string, at time.Time, price decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.Triggered {
		return false, nil
	}
	a.Triggered = true
	a.TriggeredAt = &at
	a.TriggerPrice = &price
	m.alerts[alertID] = a
	return true, nil
}

func (m *Memory) DeletePriceAlert(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alertID]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, alertID)
	for i, id := range m.alertOrder {
		if id == alertID {
			m.alertOrder = append(m.alertOrder[:i], m.alertOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

type memTx struct {
	m         *Memory
	accountID string
	account   *model.TradingAccount
	positions map[string]model.Position
	orders    []model.Order
	trades    []model.Trade
	calls     map[string]model.MarginCall
	callOrder []string
}

func (tx *memTx) GetAccount(_ context.Context) (model.TradingAccount, error) {
	if tx.account != nil {
		return *tx.account, nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	acc, ok := tx.m.accounts[tx.accountID]
	if !ok {
		return model.TradingAccount{}, ErrNotFound
	}
	return acc, nil
}

func (tx *memTx) UpdateAccount(_ context.Context, acc model.TradingAccount) error {
	if acc.ID != tx.accountID {
		return fmt.Errorf("update account %s outside tx for %s", acc.ID, tx.accountID)
	}
	tx.account = &acc
	return nil
}

func (tx *memTx) lookupPosition(positionID string) (model.Position, bool) {
	if p, ok := tx.positions[positionID]; ok {
		return p, true
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	p, ok := tx.m.positions[positionID]
	return p, ok
}

func (tx *memTx) GetPosition(_ context.Context, positionID string) (model.Position, error) {
	p, ok := tx.lookupPosition(positionID)
	if !ok || p.AccountID != tx.accountID {
		return model.Position{}, ErrNotFound
	}
	return p, nil
}

func (tx *memTx) ListOpenPositions(_ context.Context) ([]model.Position, error) {
	merged := map[string]model.Position{}
	tx.m.mu.RLock()
	for id, p := range tx.m.positions {
		if p.AccountID == tx.accountID {
			merged[id] = p
		}
	}
	tx.m.mu.RUnlock()
	for id, p := range tx.positions {
		merged[id] = p
	}
	var out []model.Position
	for _, p := range merged {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return openedBefore(out[i], out[j]) })
	return out, nil
}

func (tx *memTx) InsertPosition(_ context.Context, p model.Position) error {
	if p.ID == "" || p.AccountID != tx.accountID {
		return fmt.Errorf("invalid position for account %s", tx.accountID)
	}
	if _, ok := tx.lookupPosition(p.ID); ok {
		return ErrConflict
	}
	tx.positions[p.ID] = p
	return nil
}

func (tx *memTx) UpdatePosition(_ context.Context, p model.Position) error {
	cur, ok := tx.lookupPosition(p.ID)
	if !ok || cur.AccountID != tx.accountID || p.AccountID != tx.accountID {
		return ErrNotFound
	}
	tx.positions[p.ID] = p
	return nil
}

func (tx *memTx) InsertOrder(_ context.Context, o model.Order) error {
	tx.orders = append(tx.orders, o)
	return nil
}

func (tx *memTx) InsertTrade(_ context.Context, t model.Trade) error {
	tx.trades = append(tx.trades, t)
	return nil
}

func (tx *memTx) pendingCalls() []model.MarginCall {
	merged := map[string]model.MarginCall{}
	tx.m.mu.RLock()
	for _, id := range tx.m.callOrder {
		if mc := tx.m.marginCalls[id]; mc.AccountID == tx.accountID {
			merged[id] = mc
		}
	}
	tx.m.mu.RUnlock()
	for id, mc := range tx.calls {
		merged[id] = mc
	}
	var out []model.MarginCall
	for _, mc := range merged {
		if !mc.Resolved {
			out = append(out, mc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (tx *memTx) PendingMarginCall(_ context.Context) (model.MarginCall, bool, error) {
	pending := tx.pendingCalls()
	if len(pending) == 0 {
		return model.MarginCall{}, false, nil
	}
	return pending[0], true, nil
}

func (tx *memTx) stageCall(mc model.MarginCall) {
	if _, ok := tx.calls[mc.ID]; !ok {
		tx.callOrder = append(tx.callOrder, mc.ID)
	}
	tx.calls[mc.ID] = mc
}

func (tx *memTx) InsertMarginCall(_ context.Context, mc model.MarginCall) error {
	if mc.ID == "" || mc.AccountID != tx.accountID {
		return fmt.Errorf("invalid margin call for account %s", tx.accountID)
	}
	if !mc.Resolved && len(tx.pendingCalls()) > 0 {
		return ErrConflict
	}
	tx.stageCall(mc)
	return nil
}

func (tx *memTx) ResolveMarginCalls(_ context.Context, at time.Time) (int, error) {
	pending := tx.pendingCalls()
	for _, mc := range pending {
		resolvedAt := at
		mc.Resolved = true
		mc.ResolvedAt = &resolvedAt
		tx.stageCall(mc)
	}
	return len(pending), nil
}

func sortAccounts(accs []model.TradingAccount) {
	sort.Slice(accs, func(i, j int) bool {
		if !accs[i].CreatedAt.Equal(accs[j].CreatedAt) {
			return accs[i].CreatedAt.Before(accs[j].CreatedAt)
		}
		return accs[i].ID < accs[j].ID
	})
}

func openedBefore(a, b model.Position) bool {
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.Before(b.OpenedAt)
	}
	return a.ID < b.ID
}

func closedAfter(a, b model.Position) bool {
	var at, bt time.Time
	if a.ClosedAt != nil {
		at = *a.ClosedAt
	}
	if b.ClosedAt != nil {
		bt = *b.ClosedAt
	}
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID > b.ID
}

func limitSlice[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
