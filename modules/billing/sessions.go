package billing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"

	"thumbforge-server/modules/common/apperr"
	"thumbforge-server/modules/common/auth"
	"thumbforge-server/modules/common/database"
	"thumbforge-server/modules/common/model"
	"thumbforge-server/modules/quota"
)

// Sessions - Stripe 호스팅 결제/포털 세션 발급
type Sessions struct {
	store  database.Store
	plans  *quota.PlanTable
	appURL string

	createCustomer        func(params *stripe.CustomerParams) (*stripe.Customer, error)
	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

func NewSessions(store database.Store, plans *quota.PlanTable, appURL string) *Sessions {
	return &Sessions{
		store:                 store,
		plans:                 plans,
		appURL:                appURL,
		createCustomer:        customer.New,
		createCheckoutSession: stripesession.New,
		createPortalSession:   portalsession.New,
	}
}

// customerID - 매핑된 Stripe 고객이 없으면 생성 후 저장
func (s *Sessions) customerID(ctx context.Context, user *auth.User) (string, error) {
	existing, err := s.store.GetCustomer(ctx, user.ID)
	if err != nil {
		return "", apperr.Internal("Failed to load billing account", err)
	}
	if existing != nil && existing.StripeCustomerID != "" {
		return existing.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if user.Email != "" {
		params.Email = stripe.String(user.Email)
	}
	params.AddMetadata(UserIDMetadataKey, user.ID)

	created, err := s.createCustomer(params)
	if err != nil {
		return "", apperr.Internal("Failed to create billing account", err)
	}
	if err := s.store.UpsertCustomer(ctx, &model.Customer{ID: user.ID, StripeCustomerID: created.ID}); err != nil {
		return "", apperr.Internal("Failed to create billing account", err)
	}

	log.Info().Str("user_id", user.ID).Str("customer_id", created.ID).Msg("👤 [Billing] Customer created")
	return created.ID, nil
}

// Checkout - 구독 결제 세션 URL
func (s *Sessions) Checkout(ctx context.Context, user *auth.User, planID string) (string, error) {
	if planID != quota.PlanPro && planID != quota.PlanAgency {
		return "", apperr.Validation("Invalid plan: %q", planID)
	}
	priceID := s.plans.PriceFor(planID)
	if priceID == "" {
		return "", apperr.Validation("Price not configured for %s plan", planID)
	}

	customerID, err := s.customerID(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(s.appURL + "/settings?success=true"),
		CancelURL:          stripe.String(s.appURL + "/settings?canceled=true"),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{UserIDMetadataKey: user.ID},
		},
	}
	params.Context = ctx

	session, err := s.createCheckoutSession(params)
	if err != nil {
		return "", apperr.Internal("Failed to create checkout session", err)
	}
	if session.URL == "" {
		return "", apperr.Internal("Failed to create checkout session", fmt.Errorf("session %s has no url", session.ID))
	}

	log.Info().Str("user_id", user.ID).Str("plan", planID).Str("session_id", session.ID).Msg("🛒 [Billing] Checkout session created")
	return session.URL, nil
}

// Portal - 구독 관리 포털 URL
func (s *Sessions) Portal(ctx context.Context, user *auth.User) (string, error) {
	existing, err := s.store.GetCustomer(ctx, user.ID)
	if err != nil {
		return "", apperr.Internal("Failed to load billing account", err)
	}
	if existing == nil || existing.StripeCustomerID == "" {
		return "", apperr.NotFound("No billing account found")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(existing.StripeCustomerID),
		ReturnURL: stripe.String(s.appURL + "/settings"),
	}
	params.Context = ctx

	session, err := s.createPortalSession(params)
	if err != nil {
		return "", apperr.Internal("Failed to create portal session", err)
	}
	return session.URL, nil
}
