package scheduler

import (
	"context"
	"sort"
	"sync"

	"crm-reminders/internal/audit"
	"crm-reminders/internal/channels"
	"crm-reminders/internal/directory"
	"crm-reminders/internal/models"
	"crm-reminders/internal/repository"
)

// ==========================
// In-memory store
// ==========================

type memStore struct {
	mu          sync.Mutex
	rows        map[string]models.Reminder
	transitions map[string]int
	failWith    error
	opErrs      map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		rows:        make(map[string]models.Reminder),
		transitions: make(map[string]int),
		opErrs:      make(map[string]error),
	}
}

// errFor must be called with s.mu held.
func (s *memStore) errFor(op string) error {
	if err, ok := s.opErrs[op]; ok {
		return err
	}
	return s.failWith
}

func (s *memStore) Insert(ctx context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor("Insert"); err != nil {
		return err
	}
	s.rows[r.ID] = *r
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor("FindByID"); err != nil {
		return nil, err
	}
	r, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) FindPending(ctx context.Context) ([]*models.Reminder, error) {
	return s.filter(func(r models.Reminder) bool { return r.Status == models.StatusPending })
}

func (s *memStore) FindByCustomer(ctx context.Context, customerID string) ([]*models.Reminder, error) {
	return s.filter(func(r models.Reminder) bool { return r.CustomerID == customerID })
}

func (s *memStore) filter(keep func(models.Reminder) bool) ([]*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []*models.Reminder
	for _, r := range s.rows {
		if keep(r) {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *memStore) UpdateSchedule(ctx context.Context, r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor("UpdateSchedule"); err != nil {
		return err
	}
	cur, ok := s.rows[r.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Status != models.StatusPending {
		return repository.ErrStateConflict
	}
	s.rows[r.ID] = *r
	return nil
}

func (s *memStore) TransitionStatus(ctx context.Context, id string, to models.ReminderStatus, outcome models.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor("TransitionStatus"); err != nil {
		return err
	}
	cur, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !cur.Status.CanTransitionTo(to) {
		return repository.ErrStateConflict
	}

	cur.Status = to
	cur.UpdatedAt = outcome.At
	if outcome.Error != "" {
		msg := outcome.Error
		cur.LastError = &msg
	}
	if outcome.ProviderMessageID != "" {
		pid := outcome.ProviderMessageID
		cur.ProviderMessageID = &pid
	}
	if to != models.StatusCancelled {
		at := outcome.At
		cur.DeliveredAt = &at
	}
	s.rows[id] = cur
	s.transitions[id]++
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor("Delete"); err != nil {
		return err
	}
	if _, ok := s.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *memStore) get(id string) (models.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	return r, ok
}

func (s *memStore) status(id string) models.ReminderStatus {
	r, _ := s.get(id)
	return r.Status
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) transitionCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions[id]
}

func (s *memStore) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// failOp makes only the named store method return err.
func (s *memStore) failOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opErrs[op] = err
}

// ==========================
// Directory
// ==========================

type fakeDirectory struct {
	mu           sync.Mutex
	customers    map[string]models.Customer
	transactions map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		customers: map[string]models.Customer{
			"c1": {ID: "c1", CompanyAndName: "Acme - Jane", Email: "a@x.com", Phone: "+15550100"},
			"c2": {ID: "c2", CompanyAndName: "No Contact Ltd"},
		},
		transactions: map[string]bool{"t1": true},
	}
}

func (d *fakeDirectory) LookupCustomer(ctx context.Context, id string) (*models.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[id]
	if !ok {
		return nil, directory.ErrCustomerNotFound
	}
	return &c, nil
}

func (d *fakeDirectory) TransactionExists(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transactions[id], nil
}

func (d *fakeDirectory) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.customers, id)
}

// ==========================
// Channel
// ==========================

type recordingChannel struct {
	kind channels.AddressKind

	mu      sync.Mutex
	calls   []channels.Message
	err     error
	block   bool
	started chan struct{}
}

func newRecordingChannel(kind channels.AddressKind) *recordingChannel {
	return &recordingChannel{kind: kind, started: make(chan struct{}, 16)}
}

func (c *recordingChannel) AddressKind() channels.AddressKind { return c.kind }

func (c *recordingChannel) Send(ctx context.Context, msg channels.Message) (channels.Receipt, error) {
	c.mu.Lock()
	c.calls = append(c.calls, msg)
	err, block := c.err, c.block
	c.mu.Unlock()

	select {
	case c.started <- struct{}{}:
	default:
	}
	if block {
		<-ctx.Done()
		return channels.Receipt{}, ctx.Err()
	}
	if err != nil {
		return channels.Receipt{}, err
	}
	return channels.Receipt{ProviderMessageID: "msg-" + msg.ReminderID}, nil
}

func (c *recordingChannel) sent() []channels.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channels.Message(nil), c.calls...)
}

func (c *recordingChannel) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *recordingChannel) blockUntilCancelled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = true
}

// ==========================
// Audit
// ==========================

type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Delivery
}

func (a *recordingAudit) Record(ctx context.Context, d audit.Delivery) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, d)
	return nil
}

func (a *recordingAudit) all() []audit.Delivery {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Delivery(nil), a.records...)
}
