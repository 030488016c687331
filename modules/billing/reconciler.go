package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"

	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/model"
)

// Stripe event types
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventProductCreated      = "product.created"
	EventProductUpdated      = "product.updated"
	EventPriceCreated        = "price.created"
	EventPriceUpdated        = "price.updated"
)

// UserIDMetadataKey - 구독/고객 메타데이터의 로컬 유저 ID
const UserIDMetadataKey = "supabase_user_id"

var relevantEvents = map[string]bool{
	EventCheckoutCompleted:   true,
	EventSubscriptionCreated: true,
	EventSubscriptionUpdated: true,
	EventSubscriptionDeleted: true,
	EventProductCreated:      true,
	EventProductUpdated:      true,
	EventPriceCreated:        true,
	EventPriceUpdated:        true,
}

// IsRelevant - 처리 대상 이벤트인지
func IsRelevant(eventType string) bool {
	return relevantEvents[eventType]
}

// SubscriptionFetcher - 구독 전체 객체(가격/상품 확장 포함) 재조회
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, id string) (json.RawMessage, error)
}

// StripeFetcher - stripe-go 구독 조회 (stripe.Key 사용)
type StripeFetcher struct {
	getSubscription func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

func NewStripeFetcher() *StripeFetcher {
	return &StripeFetcher{getSubscription: subscription.Get}
}

func (f *StripeFetcher) FetchSubscription(ctx context.Context, id string) (json.RawMessage, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")

	sub, err := f.getSubscription(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	if sub.LastResponse != nil && len(sub.LastResponse.RawJSON) > 0 {
		return sub.LastResponse.RawJSON, nil
	}
	return json.Marshal(sub)
}

// Reconciler - Stripe 이벤트를 로컬 billing 미러 테이블에 반영
type Reconciler struct {
	store   database.Store
	fetcher SubscriptionFetcher
	now     func() time.Time
}

func NewReconciler(store database.Store, fetcher SubscriptionFetcher) *Reconciler {
	return &Reconciler{store: store, fetcher: fetcher, now: time.Now}
}

// SetClock - 테스트용 시계 주입
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// HandleEvent - 에러 반환 시 웹훅 전체가 실패로 응답되어 Stripe가 재전송함
func (r *Reconciler) HandleEvent(ctx context.Context, event Event) error {
	if !IsRelevant(event.Type) {
		log.Debug().Str("event_id", event.ID).Str("type", event.Type).Msg("⏭️  [Billing] Ignored event")
		return nil
	}

	switch event.Type {
	case EventProductCreated, EventProductUpdated:
		var product stripeProduct
		if err := json.Unmarshal(event.Raw, &product); err != nil {
			return fmt.Errorf("decode product: %w", err)
		}
		return r.upsertProduct(ctx, &product)

	case EventPriceCreated, EventPriceUpdated:
		var price stripePrice
		if err := json.Unmarshal(event.Raw, &price); err != nil {
			return fmt.Errorf("decode price: %w", err)
		}
		return r.upsertPrice(ctx, &price)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return r.upsertSubscription(ctx, &sub)

	case EventSubscriptionDeleted:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		if err := r.store.CancelSubscription(ctx, sub.ID, r.now()); err != nil {
			return fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
		}
		log.Info().Str("subscription_id", sub.ID).Msg("🛑 [Billing] Subscription canceled")
		return nil

	case EventCheckoutCompleted:
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return r.completeCheckout(ctx, &session)
	}
	return nil
}

// completeCheckout - 구독을 재조회해 상품 → 가격 → 구독 순서로 반영
func (r *Reconciler) completeCheckout(ctx context.Context, session *stripeCheckoutSession) error {
	if session.Mode != string(stripe.CheckoutSessionModeSubscription) || session.Subscription.ID == "" {
		log.Debug().Str("session_id", session.ID).Str("mode", session.Mode).Msg("⏭️  [Billing] Checkout without subscription")
		return nil
	}
	if r.fetcher == nil {
		return errors.New("subscription fetcher not configured")
	}

	raw, err := r.fetcher.FetchSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("decode subscription %s: %w", session.Subscription.ID, err)
	}

	if len(sub.Items.Data) > 0 {
		price := sub.Items.Data[0].Price
		if product := price.Product.Object; product != nil {
			if err := r.upsertProduct(ctx, product); err != nil {
				return err
			}
		}
		if err := r.upsertPrice(ctx, &price); err != nil {
			return err
		}
	}
	return r.upsertSubscription(ctx, &sub)
}

func (r *Reconciler) upsertProduct(ctx context.Context, p *stripeProduct) error {
	row := &model.Product{
		ID:          p.ID,
		Active:      p.Active,
		Name:        p.Name,
		Description: p.Description,
		Metadata:    p.Metadata,
	}
	if len(p.Images) > 0 {
		row.Image = model.StringPtr(p.Images[0])
	}
	if err := r.store.UpsertProduct(ctx, row); err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	log.Info().Str("product_id", p.ID).Msg("📦 [Billing] Product upserted")
	return nil
}

func (r *Reconciler) upsertPrice(ctx context.Context, p *stripePrice) error {
	row := &model.Price{
		ID:          p.ID,
		ProductID:   p.Product.ID,
		Active:      p.Active,
		Description: p.Nickname,
		UnitAmount:  p.UnitAmount,
		Currency:    p.Currency,
		Type:        p.Type,
		Metadata:    p.Metadata,
	}
	if p.Recurring != nil {
		interval := p.Recurring.Interval
		count := p.Recurring.IntervalCount
		row.Interval = &interval
		row.IntervalCount = &count
		row.TrialPeriodDays = p.Recurring.TrialPeriodDays
	}
	if err := r.store.UpsertPrice(ctx, row); err != nil {
		return fmt.Errorf("upsert price %s: %w", p.ID, err)
	}
	log.Info().Str("price_id", p.ID).Str("product_id", row.ProductID).Msg("💲 [Billing] Price upserted")
	return nil
}

// resolveUserID - 메타데이터 우선, 없으면 고객 매핑 조회
func (r *Reconciler) resolveUserID(ctx context.Context, sub *stripeSubscription) (string, error) {
	if userID := sub.Metadata[UserIDMetadataKey]; userID != "" {
		return userID, nil
	}
	if sub.Customer.ID == "" {
		return "", nil
	}
	userID, err := r.store.GetUserIDByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return "", fmt.Errorf("lookup customer %s: %w", sub.Customer.ID, err)
	}
	return userID, nil
}

func (r *Reconciler) upsertSubscription(ctx context.Context, sub *stripeSubscription) error {
	userID, err := r.resolveUserID(ctx, sub)
	if err != nil {
		return err
	}
	if userID == "" {
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("customer_id", sub.Customer.ID).
			Msg("⚠️  [Billing] No user for subscription, dropping")
		return nil
	}

	start, end := sub.period()
	row := &model.Subscription{
		ID:                 sub.ID,
		UserID:             userID,
		Status:             sub.Status,
		Metadata:           sub.Metadata,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: unixTime(start),
		CurrentPeriodEnd:   unixTime(end),
		EndedAt:            unixTimePtr(sub.EndedAt),
		CancelAt:           unixTimePtr(sub.CancelAt),
		CanceledAt:         unixTimePtr(sub.CanceledAt),
		TrialStart:         unixTimePtr(sub.TrialStart),
		TrialEnd:           unixTimePtr(sub.TrialEnd),
	}
	if len(sub.Items.Data) > 0 {
		row.PriceID = sub.Items.Data[0].Price.ID
		row.Quantity = sub.Items.Data[0].Quantity
	}

	if err := r.store.UpsertSubscription(ctx, row); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}
	log.Info().
		Str("subscription_id", sub.ID).
		Str("user_id", userID).
		Str("status", sub.Status).
		Str("price_id", row.PriceID).
		Msg("🔁 [Billing] Subscription upserted")
	return nil
}
