package billing

import (
	"strings"

	"gorm.io/gorm"

	"github.com/ulsoftuz/bizora/app/models"
)

// fakeRepository is an in-memory Repository for service tests. Lookups
// return copies so state only changes through Save calls, mirroring how a
// real database behaves.
type fakeRepository struct {
	transactions  map[uint]*models.BillingTransaction
	paymes        map[uint]*models.PaymeTransaction
	clicks        map[uint]*models.ClickTransaction
	businesses    map[uint]*models.Business
	plans         map[uint]*models.Plan
	subscriptions map[uint]*models.Subscription
	nextID        uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		transactions:  make(map[uint]*models.BillingTransaction),
		paymes:        make(map[uint]*models.PaymeTransaction),
		clicks:        make(map[uint]*models.ClickTransaction),
		businesses:    make(map[uint]*models.Business),
		plans:         make(map[uint]*models.Plan),
		subscriptions: make(map[uint]*models.Subscription),
	}
}

func (f *fakeRepository) nextSequence() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeRepository) CreateTransaction(t *models.BillingTransaction) error {
	if err := t.BeforeCreate(nil); err != nil {
		return err
	}
	t.ID = f.nextSequence()
	cp := *t
	f.transactions[t.ID] = &cp
	return nil
}

func (f *fakeRepository) SaveTransaction(t *models.BillingTransaction) error {
	if t.ID == 0 {
		return f.CreateTransaction(t)
	}
	cp := *t
	f.transactions[t.ID] = &cp
	return nil
}

func (f *fakeRepository) FindTransactionByOrderID(orderID string) (*models.BillingTransaction, error) {
	for _, t := range f.transactions {
		if t.OrderID == orderID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindTransactionByID(id uint) (*models.BillingTransaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepository) FindPendingTransaction(businessID, planID uint, provider, billingCycle string) (*models.BillingTransaction, error) {
	var found *models.BillingTransaction
	for _, t := range f.transactions {
		if t.BusinessID != businessID || t.PlanID != planID || t.Provider != provider {
			continue
		}
		if t.Status != models.TxStatusCreated || t.IsExpired() {
			continue
		}
		if !strings.Contains(t.MetadataJSON, `"billing_cycle":"`+billingCycle+`"`) {
			continue
		}
		if found == nil || t.ID > found.ID {
			found = t
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *found
	return &cp, nil
}

func (f *fakeRepository) SavePayme(pt *models.PaymeTransaction) error {
	if pt.ID == 0 {
		pt.ID = f.nextSequence()
	}
	cp := *pt
	f.paymes[pt.ID] = &cp
	return nil
}

func (f *fakeRepository) FindPaymeByPaymeID(paymeID string) (*models.PaymeTransaction, error) {
	for _, pt := range f.paymes {
		if pt.PaymeID == paymeID {
			cp := *pt
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindPaymeByTransactionID(billingTransactionID uint) (*models.PaymeTransaction, error) {
	for _, pt := range f.paymes {
		if pt.BillingTransactionID == billingTransactionID {
			cp := *pt
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListPaymeByCreateTime(fromMs, toMs int64) ([]models.PaymeTransaction, error) {
	var out []models.PaymeTransaction
	for _, pt := range f.paymes {
		if pt.CreateTime >= fromMs && pt.CreateTime <= toMs && pt.PaymeID != "" {
			out = append(out, *pt)
		}
	}
	return out, nil
}

func (f *fakeRepository) SaveClick(ct *models.ClickTransaction) error {
	if ct.ID == 0 {
		ct.ID = f.nextSequence()
	}
	cp := *ct
	f.clicks[ct.ID] = &cp
	return nil
}

func (f *fakeRepository) FindClickByClickTransID(clickTransID int64) (*models.ClickTransaction, error) {
	for _, ct := range f.clicks {
		if ct.ClickTransID == clickTransID {
			cp := *ct
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindClickByTransactionID(billingTransactionID uint) (*models.ClickTransaction, error) {
	for _, ct := range f.clicks {
		if ct.BillingTransactionID == billingTransactionID {
			cp := *ct
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindBusinessByID(id uint) (*models.Business, error) {
	b, ok := f.businesses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeRepository) FindBusinessByAPIKeyHash(hash string) (*models.Business, error) {
	for _, b := range f.businesses {
		if b.APIKeyHash != "" && b.APIKeyHash == hash {
			cp := *b
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindPlanByID(id uint) (*models.Plan, error) {
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepository) FindActiveSubscription(businessID, planID uint) (*models.Subscription, error) {
	var found *models.Subscription
	for _, s := range f.subscriptions {
		if s.BusinessID == businessID && s.PlanID == planID && s.Status == models.SubscriptionStatusActive {
			if found == nil || s.EndsAt.After(found.EndsAt) {
				found = s
			}
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *found
	return &cp, nil
}

func (f *fakeRepository) SaveSubscription(s *models.Subscription) error {
	if s.ID == 0 {
		s.ID = f.nextSequence()
	}
	cp := *s
	f.subscriptions[s.ID] = &cp
	return nil
}

func (f *fakeRepository) InTransaction(fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeRepository) clone() *fakeRepository {
	c := newFakeRepository()
	c.nextID = f.nextID
	for id, t := range f.transactions {
		cp := *t
		c.transactions[id] = &cp
	}
	for id, pt := range f.paymes {
		cp := *pt
		c.paymes[id] = &cp
	}
	for id, ct := range f.clicks {
		cp := *ct
		c.clicks[id] = &cp
	}
	for id, b := range f.businesses {
		cp := *b
		c.businesses[id] = &cp
	}
	for id, p := range f.plans {
		cp := *p
		c.plans[id] = &cp
	}
	for id, s := range f.subscriptions {
		cp := *s
		c.subscriptions[id] = &cp
	}
	return c
}

// snapshotFakeRepository layers transaction semantics over fakeRepository:
// InTransaction runs fn against a copy of the store and merges it back only
// when fn succeeds. Reads through the outer handle never observe
// uncommitted writes, and writes through the outer handle during fn are
// discarded at commit, mirroring how MySQL isolates the real repository.
type snapshotFakeRepository struct {
	*fakeRepository
}

func (s *snapshotFakeRepository) InTransaction(fn func(Repository) error) error {
	work := s.fakeRepository.clone()
	if err := fn(work); err != nil {
		return err
	}
	*s.fakeRepository = *work
	return nil
}

func (f *fakeRepository) addBusiness(b models.Business) *models.Business {
	if b.ID == 0 {
		b.ID = f.nextSequence()
	}
	f.businesses[b.ID] = &b
	return &b
}

func (f *fakeRepository) addPlan(p models.Plan) *models.Plan {
	if p.ID == 0 {
		p.ID = f.nextSequence()
	}
	f.plans[p.ID] = &p
	return &p
}

func (f *fakeRepository) addTransaction(t models.BillingTransaction) *models.BillingTransaction {
	if t.ID == 0 {
		t.ID = f.nextSequence()
	}
	f.transactions[t.ID] = &t
	return &t
}
