package workflow

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/NaturesProfit7/Warehouse-Automation/models"
	"github.com/NaturesProfit7/Warehouse-Automation/utils"
	"github.com/sirupsen/logrus"
)

// memData is the backing state of the in-memory store fake.
type memData struct {
	blanks        []*models.Blank
	mappings      []*models.ProductMapping
	movements     []*models.Movement
	balances      map[string]*models.StockBalance
	unmapped      []*models.UnmappedItem
	events        map[string]*models.ProcessedEvent
	notifications []*models.NotificationRecord
	nextID        int
}

func (d *memData) clone() *memData {
	c := &memData{
		blanks:    make([]*models.Blank, len(d.blanks)),
		mappings:  make([]*models.ProductMapping, len(d.mappings)),
		movements: make([]*models.Movement, len(d.movements)),
		balances:  make(map[string]*models.StockBalance, len(d.balances)),
		unmapped:  make([]*models.UnmappedItem, len(d.unmapped)),
		events:    make(map[string]*models.ProcessedEvent, len(d.events)),
		nextID:    d.nextID,
	}
	for i, b := range d.blanks {
		cp := *b
		c.blanks[i] = &cp
	}
	for i, m := range d.mappings {
		cp := *m
		c.mappings[i] = &cp
	}
	for i, m := range d.movements {
		cp := *m
		c.movements[i] = &cp
	}
	for k, b := range d.balances {
		cp := *b
		c.balances[k] = &cp
	}
	for i, u := range d.unmapped {
		cp := *u
		c.unmapped[i] = &cp
	}
	for k, e := range d.events {
		cp := *e
		c.events[k] = &cp
	}
	c.notifications = make([]*models.NotificationRecord, len(d.notifications))
	for i, n := range d.notifications {
		cp := *n
		c.notifications[i] = &cp
	}
	return c
}

// memStore implements Store in memory. Transactions take the store-wide
// mutex for their whole duration, so concurrent InTransaction calls are
// serialized the way separate DB transactions over one hot row would be,
// and a failed transaction restores the pre-transaction snapshot.
type memStore struct {
	mu       *sync.Mutex
	data     *memData
	inTx     bool
	lockMu   *sync.Mutex
	skuLocks map[string]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		mu: &sync.Mutex{},
		data: &memData{
			balances: map[string]*models.StockBalance{},
			events:   map[string]*models.ProcessedEvent{},
			nextID:   1,
		},
		lockMu:   &sync.Mutex{},
		skuLocks: map[string]*sync.Mutex{},
	}
}

func (s *memStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) addBlank(b models.Blank) *models.Blank {
	defer s.lock()()
	if b.IsActive == nil {
		b.IsActive = utils.NewTrue()
	}
	b.ID = s.data.nextID
	s.data.nextID++
	s.data.blanks = append(s.data.blanks, &b)
	return &b
}

func (s *memStore) addMapping(m models.ProductMapping) *models.ProductMapping {
	defer s.lock()()
	if m.IsActive == nil {
		m.IsActive = utils.NewTrue()
	}
	if m.QtyPerUnit == 0 {
		m.QtyPerUnit = 1
	}
	if m.Priority == 0 {
		m.Priority = 50
	}
	m.ID = s.data.nextID
	s.data.nextID++
	s.data.mappings = append(s.data.mappings, &m)
	return &m
}

func (s *memStore) ActiveBlanks(ctx context.Context) ([]*models.Blank, error) {
	defer s.lock()()
	var out []*models.Blank
	for _, b := range s.data.blanks {
		if utils.DereferencePtr(b.IsActive) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlankSku < out[j].BlankSku })
	return out, nil
}

func (s *memStore) BlankBySku(ctx context.Context, sku string) (*models.Blank, error) {
	defer s.lock()()
	for _, b := range s.data.blanks {
		if b.BlankSku == sku {
			return b, nil
		}
	}
	return nil, nil
}

func (s *memStore) ActiveMappings(ctx context.Context) ([]*models.ProductMapping, error) {
	defer s.lock()()
	var out []*models.ProductMapping
	for _, m := range s.data.mappings {
		if utils.DereferencePtr(m.IsActive) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) AppendMovement(ctx context.Context, m *models.Movement) error {
	defer s.lock()()
	cp := *m
	s.data.movements = append(s.data.movements, &cp)
	return nil
}

func (s *memStore) LatestMovement(ctx context.Context, sku string) (*models.Movement, error) {
	defer s.lock()()
	var latest *models.Movement
	for _, m := range s.data.movements {
		if m.BlankSku != sku {
			continue
		}
		if latest == nil || m.OccurredAt.After(latest.OccurredAt) || m.OccurredAt.Equal(latest.OccurredAt) {
			latest = m
		}
	}
	return latest, nil
}

func (s *memStore) Movements(ctx context.Context, sku string, from, to time.Time) ([]*models.Movement, error) {
	defer s.lock()()
	var out []*models.Movement
	for _, m := range s.data.movements {
		if m.BlankSku != sku {
			continue
		}
		if !from.IsZero() && m.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && m.OccurredAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (s *memStore) SumMovements(ctx context.Context, sku string) (int, error) {
	defer s.lock()()
	sum := 0
	for _, m := range s.data.movements {
		if m.BlankSku == sku {
			sum += m.Qty
		}
	}
	return sum, nil
}

func (s *memStore) OutboundUsageSince(ctx context.Context, sku string, since time.Time) (int, int, error) {
	defer s.lock()()
	total, count := 0, 0
	for _, m := range s.data.movements {
		if m.BlankSku != sku || m.Qty >= 0 || m.OccurredAt.Before(since) {
			continue
		}
		total += -m.Qty
		count++
	}
	return total, count, nil
}

func (s *memStore) StockBalance(ctx context.Context, sku string) (*models.StockBalance, error) {
	defer s.lock()()
	b, ok := s.data.balances[sku]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) UpsertStockBalance(ctx context.Context, b *models.StockBalance) error {
	defer s.lock()()
	cp := *b
	s.data.balances[b.BlankSku] = &cp
	return nil
}

func (s *memStore) AllStockBalances(ctx context.Context) ([]*models.StockBalance, error) {
	defer s.lock()()
	var out []*models.StockBalance
	for _, b := range s.data.balances {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlankSku < out[j].BlankSku })
	return out, nil
}

func (s *memStore) CreateUnmappedItem(ctx context.Context, item *models.UnmappedItem) error {
	defer s.lock()()
	item.ID = s.data.nextID
	s.data.nextID++
	cp := *item
	s.data.unmapped = append(s.data.unmapped, &cp)
	return nil
}

func (s *memStore) PendingUnmappedItems(ctx context.Context) ([]*models.UnmappedItem, error) {
	defer s.lock()()
	var out []*models.UnmappedItem
	for _, item := range s.data.unmapped {
		if item.Resolution == models.UnmappedResolutionPending {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) BeginEvent(ctx context.Context, source, key string) (bool, error) {
	defer s.lock()()
	k := source + "|" + key
	existing, ok := s.data.events[k]
	if !ok {
		s.data.events[k] = &models.ProcessedEvent{
			Source:    source,
			EventKey:  key,
			Status:    models.ProcessedEventStarted,
			UpdatedAt: time.Now().UTC(),
		}
		return false, nil
	}
	switch existing.Status {
	case models.ProcessedEventSucceeded:
		return true, nil
	case models.ProcessedEventStarted:
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, ErrEventInProgress
		}
		existing.Status = models.ProcessedEventStarted
		existing.UpdatedAt = time.Now().UTC()
		return false, nil
	default:
		existing.Status = models.ProcessedEventStarted
		existing.LastError = nil
		existing.UpdatedAt = time.Now().UTC()
		return false, nil
	}
}

func (s *memStore) MarkEventSucceeded(ctx context.Context, source, key, outcome string) error {
	defer s.lock()()
	if e, ok := s.data.events[source+"|"+key]; ok {
		e.Status = models.ProcessedEventSucceeded
		e.Outcome = &outcome
		e.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *memStore) MarkEventFailed(ctx context.Context, source, key string, cause error) error {
	defer s.lock()()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	k := source + "|" + key
	e, ok := s.data.events[k]
	if !ok {
		e = &models.ProcessedEvent{Source: source, EventKey: key}
		s.data.events[k] = e
	}
	e.Status = models.ProcessedEventFailed
	e.LastError = &msg
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memStore) EnqueueNotification(ctx context.Context, n *models.NotificationRecord) error {
	defer s.lock()()
	n.ID = s.data.nextID
	s.data.nextID++
	cp := *n
	s.data.notifications = append(s.data.notifications, &cp)
	return nil
}

func (s *memStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	err := fn(&memStore{mu: s.mu, data: s.data, inTx: true, lockMu: s.lockMu, skuLocks: s.skuLocks})
	if err != nil {
		*s.data = *snapshot
	}
	return err
}

// AcquireSkuLock is a real blocking per-SKU lock, like the advisory lock
// the MySQL store takes: concurrent writers for one SKU queue here.
func (s *memStore) AcquireSkuLock(ctx context.Context, sku string) (func(), error) {
	s.lockMu.Lock()
	m := s.skuLocks[sku]
	if m == nil {
		m = &sync.Mutex{}
		s.skuLocks[sku] = m
	}
	s.lockMu.Unlock()
	m.Lock()
	return m.Unlock, nil
}

var _ Store = (*memStore)(nil)

func (s *memStore) eventStatus(source, key string) (models.ProcessedEventStatus, bool) {
	defer s.lock()()
	e, ok := s.data.events[source+"|"+key]
	if !ok {
		return "", false
	}
	return e.Status, true
}

func (s *memStore) pendingNotifications() []*models.NotificationRecord {
	defer s.lock()()
	out := make([]*models.NotificationRecord, len(s.data.notifications))
	copy(out, s.data.notifications)
	return out
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
