package counter

import (
	"context"
	"fmt"

	"github.com/ulsoftuz/bizora/internal/pkg/cache"
)

const webhookDeliveriesKey = "billing:counters:webhooks"

// AddWebhookDelivery increments the delivery counter for one provider
// method in Redis. Best-effort: callers ignore the error so a cache outage
// never affects webhook processing.
func AddWebhookDelivery(provider, method string) error {
	ctx := context.Background()
	field := fmt.Sprintf("%s:%s", provider, method)
	return cache.GetClient().HIncrBy(ctx, webhookDeliveriesKey, field, 1).Err()
}

// WebhookTotals returns the per-provider-method delivery counters.
func WebhookTotals() (map[string]string, error) {
	ctx := context.Background()
	return cache.GetClient().HGetAll(ctx, webhookDeliveriesKey).Result()
}
