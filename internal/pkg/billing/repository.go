package billing

import (
	"context"

	"github.com/ulsoftuz/bizora/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the payment services. Lookups
// return gorm.ErrRecordNotFound when the row does not exist.
type Repository interface {
	CreateTransaction(t *models.BillingTransaction) error
	SaveTransaction(t *models.BillingTransaction) error
	FindTransactionByOrderID(orderID string) (*models.BillingTransaction, error)
	FindTransactionByID(id uint) (*models.BillingTransaction, error)
	FindPendingTransaction(businessID, planID uint, provider, billingCycle string) (*models.BillingTransaction, error)

	SavePayme(pt *models.PaymeTransaction) error
	FindPaymeByPaymeID(paymeID string) (*models.PaymeTransaction, error)
	FindPaymeByTransactionID(billingTransactionID uint) (*models.PaymeTransaction, error)
	ListPaymeByCreateTime(fromMs, toMs int64) ([]models.PaymeTransaction, error)

	SaveClick(ct *models.ClickTransaction) error
	FindClickByClickTransID(clickTransID int64) (*models.ClickTransaction, error)
	FindClickByTransactionID(billingTransactionID uint) (*models.ClickTransaction, error)

	FindBusinessByID(id uint) (*models.Business, error)
	FindBusinessByAPIKeyHash(hash string) (*models.Business, error)
	FindPlanByID(id uint) (*models.Plan, error)

	FindActiveSubscription(businessID, planID uint) (*models.Subscription, error)
	SaveSubscription(s *models.Subscription) error

	// InTransaction runs fn inside a single database transaction. The
	// repository passed to fn must be used for every read and write that
	// participates in the decision, so concurrent webhook deliveries race
	// safely on the row state.
	InTransaction(fn func(Repository) error) error
}

type repositoryContextKey struct{}

// WithRepository stores a transaction-scoped repository on the context.
// Event emitters use it so handlers write through the same database
// transaction the event was dispatched in.
func WithRepository(ctx context.Context, r Repository) context.Context {
	return context.WithValue(ctx, repositoryContextKey{}, r)
}

// RepositoryFromContext returns the repository stored by WithRepository, or
// nil when the context carries none.
func RepositoryFromContext(ctx context.Context) Repository {
	r, _ := ctx.Value(repositoryContextKey{}).(Repository)
	return r
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateTransaction(t *models.BillingTransaction) error {
	return r.db.Create(t).Error
}

func (r *gormRepository) SaveTransaction(t *models.BillingTransaction) error {
	return r.db.Save(t).Error
}

func (r *gormRepository) FindTransactionByOrderID(orderID string) (*models.BillingTransaction, error) {
	var t models.BillingTransaction
	if err := r.db.Where("order_id = ?", orderID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) FindTransactionByID(id uint) (*models.BillingTransaction, error) {
	var t models.BillingTransaction
	if err := r.db.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) FindPendingTransaction(businessID, planID uint, provider, billingCycle string) (*models.BillingTransaction, error) {
	var t models.BillingTransaction
	err := r.db.
		Where("business_id = ? AND plan_id = ? AND provider = ? AND status = ? AND expires_at > NOW()",
			businessID, planID, provider, models.TxStatusCreated).
		Where("metadata_json LIKE ?", "%\"billing_cycle\":\""+billingCycle+"\"%").
		Order("id DESC").
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) SavePayme(pt *models.PaymeTransaction) error {
	return r.db.Save(pt).Error
}

func (r *gormRepository) FindPaymeByPaymeID(paymeID string) (*models.PaymeTransaction, error) {
	var pt models.PaymeTransaction
	if err := r.db.Where("payme_id = ?", paymeID).First(&pt).Error; err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *gormRepository) FindPaymeByTransactionID(billingTransactionID uint) (*models.PaymeTransaction, error) {
	var pt models.PaymeTransaction
	if err := r.db.Where("billing_transaction_id = ?", billingTransactionID).First(&pt).Error; err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *gormRepository) ListPaymeByCreateTime(fromMs, toMs int64) ([]models.PaymeTransaction, error) {
	var pts []models.PaymeTransaction
	err := r.db.
		Where("create_time BETWEEN ? AND ? AND payme_id <> ''", fromMs, toMs).
		Order("create_time ASC").
		Find(&pts).Error
	return pts, err
}

func (r *gormRepository) SaveClick(ct *models.ClickTransaction) error {
	return r.db.Save(ct).Error
}

func (r *gormRepository) FindClickByClickTransID(clickTransID int64) (*models.ClickTransaction, error) {
	var ct models.ClickTransaction
	if err := r.db.Where("click_trans_id = ?", clickTransID).First(&ct).Error; err != nil {
		return nil, err
	}
	return &ct, nil
}

func (r *gormRepository) FindClickByTransactionID(billingTransactionID uint) (*models.ClickTransaction, error) {
	var ct models.ClickTransaction
	if err := r.db.Where("billing_transaction_id = ?", billingTransactionID).First(&ct).Error; err != nil {
		return nil, err
	}
	return &ct, nil
}

func (r *gormRepository) FindBusinessByID(id uint) (*models.Business, error) {
	var b models.Business
	if err := r.db.First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) FindBusinessByAPIKeyHash(hash string) (*models.Business, error) {
	var b models.Business
	if err := r.db.Where("api_key_hash = ? AND api_key_hash <> ''", hash).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *gormRepository) FindPlanByID(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) FindActiveSubscription(businessID, planID uint) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.
		Where("business_id = ? AND plan_id = ? AND status = ?", businessID, planID, models.SubscriptionStatusActive).
		Order("ends_at DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SaveSubscription(s *models.Subscription) error {
	return r.db.Save(s).Error
}

func (r *gormRepository) InTransaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
