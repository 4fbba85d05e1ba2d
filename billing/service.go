package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zllovesuki/seatplan/organization"
	resp "github.com/zllovesuki/seatplan/response"
	"github.com/zllovesuki/seatplan/subscription"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// Intents of the billing page form
const (
	IntentOpenCustomerPortal      = "openCustomerPortal"
	IntentViewCheckout            = "viewCheckout"
	IntentUpdateBillingEmail      = "updateBillingEmail"
	IntentCancelSubscription      = "cancelSubscription"
	IntentResumeSubscription      = "resumeSubscription"
	IntentKeepCurrentSubscription = "keepCurrentSubscription"
	IntentSwitchSubscription      = "switchSubscription"
)

// Options contains the configuration for the billing Service
type Options struct {
	Organizations *organization.Manager
	Subscriptions *subscription.Manager
	Provider      PaymentProvider
	Clock         clockwork.Clock
	Logger        *zap.Logger
	// SiteURL is the base of the URLs the payment provider redirects back to
	SiteURL string
}

// Service serves the billing page of an organization
type Service struct {
	Options
}

// IntentForm is the form posted by the billing page
type IntentForm struct {
	Intent       string `validate:"required,oneof=openCustomerPortal viewCheckout updateBillingEmail cancelSubscription resumeSubscription keepCurrentSubscription switchSubscription"`
	LookupKey    string `validate:"omitempty,max=64"`
	BillingEmail string `validate:"omitempty,email"`
}

// RedirectResponse is returned by intents that continue on the payment provider
type RedirectResponse struct {
	URL string `json:"url"`
}

// NewService will create an instance of the billing router
func NewService(option Options) (*Service, error) {
	if option.Organizations == nil {
		return nil, fmt.Errorf("nil Organizations is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = clockwork.NewRealClock()
	}
	option.SiteURL = strings.TrimRight(option.SiteURL, "/")
	return &Service{
		Options: option,
	}, nil
}

// Snapshot loads the data the billing state is derived from
func (s *Service) Snapshot(ctx context.Context, org *organization.Organization) (OrganizationSnapshot, error) {
	sub, err := s.Subscriptions.GetLatest(ctx, org.ID)
	if err != nil {
		return OrganizationSnapshot{}, err
	}
	members, err := s.Organizations.CountMembers(ctx, org.ID)
	if err != nil {
		return OrganizationSnapshot{}, err
	}
	return OrganizationSnapshot{
		Slug:         org.Slug,
		BillingEmail: org.BillingEmail,
		TrialEnd:     org.TrialEnd,
		MemberCount:  members,
		Subscription: sub,
	}, nil
}

// State derives the billing state of the organization as of now
func (s *Service) State(ctx context.Context, org *organization.Organization) (State, error) {
	snapshot, err := s.Snapshot(ctx, org)
	if err != nil {
		return State{}, err
	}
	state, err := DeriveState(snapshot, s.Clock.Now())
	if err != nil {
		return State{}, extErrors.Wrap(err, "Cannot derive billing state")
	}
	return state, nil
}

// SeatLimit returns how many members the organization may have. Only an active subscription allows any
func (s *Service) SeatLimit(ctx context.Context, org *organization.Organization) (int, error) {
	state, err := s.State(ctx, org)
	if err != nil {
		return 0, err
	}
	if state.SubscriptionStatus != StatusActive {
		return 0, nil
	}
	return state.MaxSeats, nil
}

func (s *Service) billingURL(org *organization.Organization) string {
	return s.SiteURL + "/organizations/" + org.Slug + "/billing"
}

func (s *Service) writeState(w http.ResponseWriter, r *http.Request, logger *zap.Logger, org *organization.Organization) {
	state, err := s.State(r.Context(), org)
	if err != nil {
		logger.Error("Unable to derive billing state",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, state)
}

func (s *Service) getState(w http.ResponseWriter, r *http.Request) {
	org, _, _ := organization.FromContext(r.Context())
	s.writeState(w, r, s.Logger.With(zap.String("OrganizationID", org.ID)), org)
}

func (s *Service) getPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	org, _, _ := organization.FromContext(ctx)

	members, err := s.Organizations.CountMembers(ctx, org.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	products, err := s.Subscriptions.ListProducts(ctx)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	resp.WriteResponse(w, r, NewCreateSubscriptionModal(members, products))
}

func conflict(msg string) error {
	return resp.ErrConflict().AddMessages(msg)
}

func badRequest(msg string) error {
	return resp.ErrBadRequest().AddMessages(msg)
}

// intentHandler returns a redirect URL, or an empty string when the fresh state should be returned
type intentHandler func(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error)

func (s *Service) handlers() map[string]intentHandler {
	return map[string]intentHandler{
		IntentOpenCustomerPortal:      s.openCustomerPortal,
		IntentViewCheckout:            s.viewCheckout,
		IntentUpdateBillingEmail:      s.updateBillingEmail,
		IntentCancelSubscription:      s.cancelSubscription,
		IntentResumeSubscription:      s.resumeSubscription,
		IntentKeepCurrentSubscription: s.keepCurrentSubscription,
		IntentSwitchSubscription:      s.switchSubscription,
	}
}

func (s *Service) postIntent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidForm())
		return
	}
	form := IntentForm{
		Intent:       r.PostFormValue("intent"),
		LookupKey:    strings.TrimSpace(r.PostFormValue("lookupKey")),
		BillingEmail: strings.TrimSpace(r.PostFormValue("billingEmail")),
	}
	if err := validate.Struct(&form); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	ctx := r.Context()
	org, m, _ := organization.FromContext(ctx)
	logger := s.Logger.With(
		zap.String("OrganizationID", org.ID),
		zap.String("UserID", m.UserID),
		zap.String("Intent", form.Intent),
	)

	url, err := s.handlers()[form.Intent](ctx, logger, org, form)
	if err != nil {
		var rejected *resp.Error
		if errors.As(err, &rejected) {
			billingIntents.WithLabelValues(form.Intent, resultRejected).Inc()
			resp.WriteError(w, r, rejected)
			return
		}
		billingIntents.WithLabelValues(form.Intent, resultFailed).Inc()
		logger.Error("Unable to handle billing intent",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	billingIntents.WithLabelValues(form.Intent, resultProcessed).Inc()

	if url != "" {
		resp.WriteResponse(w, r, RedirectResponse{URL: url})
		return
	}
	s.writeState(w, r, logger, org)
}

func (s *Service) openCustomerPortal(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	if org.StripeCustomerID == "" {
		return "", conflict("organization has no billing account yet")
	}
	return s.Provider.CreatePortalSession(ctx, org.StripeCustomerID, s.billingURL(org))
}

// customer returns the billing customer of the organization, creating it on first use
func (s *Service) customer(ctx context.Context, logger *zap.Logger, org *organization.Organization) (string, error) {
	if org.StripeCustomerID != "" {
		return org.StripeCustomerID, nil
	}
	id, err := s.Provider.CreateCustomer(ctx, org.ID, org.Name, org.BillingEmail)
	if err != nil {
		return "", err
	}
	if err := s.Organizations.SetStripeCustomerID(ctx, org.ID, id); err != nil {
		return "", err
	}
	org.StripeCustomerID = id
	logger.Info("Billing customer created",
		zap.String("CustomerID", id),
	)
	return id, nil
}

// targetPrice resolves the lookup key to a price whose plan fits every current member
func (s *Service) targetPrice(ctx context.Context, lookupKey string, members int) (*subscription.Price, error) {
	if _, _, err := ParseLookupKey(lookupKey); err != nil {
		return nil, badRequest(err.Error())
	}
	price, err := s.Subscriptions.GetPriceByLookupKey(ctx, lookupKey)
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, badRequest("plan is not available: " + lookupKey)
	}
	if limit := ProductSeatLimit(price.Product); limit < members {
		return nil, badRequest(fmt.Sprintf("plan allows %d seats but the organization has %d members", limit, members))
	}
	return price, nil
}

func quantity(members int) int64 {
	if members < 1 {
		return 1
	}
	return int64(members)
}

// live reports whether the subscription can still be modified
func live(sub *subscription.Subscription) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case subscription.StatusCanceled, subscription.StatusIncompleteExpired:
		return false
	}
	return true
}

func (s *Service) viewCheckout(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	snapshot, err := s.Snapshot(ctx, org)
	if err != nil {
		return "", err
	}
	if live(snapshot.Subscription) {
		return "", conflict("organization already has a subscription")
	}
	price, err := s.targetPrice(ctx, form.LookupKey, snapshot.MemberCount)
	if err != nil {
		return "", err
	}
	customerID, err := s.customer(ctx, logger, org)
	if err != nil {
		return "", err
	}
	return s.Provider.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID:     customerID,
		OrganizationID: org.ID,
		PriceID:        price.ID,
		Quantity:       quantity(snapshot.MemberCount),
		SuccessURL:     s.billingURL(org) + "?success=true",
		CancelURL:      s.billingURL(org),
	})
}

func (s *Service) updateBillingEmail(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	if form.BillingEmail == "" {
		return "", badRequest("billingEmail is required")
	}
	if org.StripeCustomerID != "" {
		if err := s.Provider.UpdateCustomerEmail(ctx, org.StripeCustomerID, form.BillingEmail); err != nil {
			return "", err
		}
	}
	return "", s.Organizations.Update(ctx, org, organization.UpdateOptions{
		BillingEmail: &form.BillingEmail,
	})
}

// current returns the subscription an intent modifies
func (s *Service) current(ctx context.Context, org *organization.Organization) (*subscription.Subscription, error) {
	sub, err := s.Subscriptions.GetLatest(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	if !live(sub) {
		return nil, conflict("organization has no active subscription")
	}
	return sub, nil
}

func (s *Service) save(ctx context.Context, org *organization.Organization, sub *subscription.Subscription) error {
	sub.OrganizationID = org.ID
	return s.Subscriptions.UpsertSubscription(ctx, sub)
}

// releaseSchedule drops a pending plan change, the provider refuses updates to scheduled subscriptions
func (s *Service) releaseSchedule(ctx context.Context, sub *subscription.Subscription) error {
	if sub.Schedule == nil {
		return nil
	}
	if err := s.Provider.ReleaseSchedule(ctx, sub.Schedule.ID); err != nil {
		return err
	}
	return s.Subscriptions.DeleteScheduleForSubscription(ctx, sub.ID)
}

func (s *Service) cancelSubscription(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	sub, err := s.current(ctx, org)
	if err != nil {
		return "", err
	}
	if sub.CancelAtPeriodEnd || !cancellableStatuses[sub.Status] {
		return "", conflict("subscription cannot be canceled")
	}
	if err := s.releaseSchedule(ctx, sub); err != nil {
		return "", err
	}
	updated, err := s.Provider.SetCancelAtPeriodEnd(ctx, sub.ID, true)
	if err != nil {
		return "", err
	}
	logger.Info("Subscription set to cancel at period end",
		zap.String("SubscriptionID", sub.ID),
	)
	return "", s.save(ctx, org, updated)
}

func (s *Service) resumeSubscription(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	sub, err := s.current(ctx, org)
	if err != nil {
		return "", err
	}
	if !sub.CancelAtPeriodEnd {
		return "", conflict("subscription is not canceled")
	}
	updated, err := s.Provider.SetCancelAtPeriodEnd(ctx, sub.ID, false)
	if err != nil {
		return "", err
	}
	return "", s.save(ctx, org, updated)
}

func (s *Service) keepCurrentSubscription(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	sub, err := s.current(ctx, org)
	if err != nil {
		return "", err
	}
	if sub.Schedule == nil {
		return "", conflict("subscription has no pending change")
	}
	return "", s.releaseSchedule(ctx, sub)
}

// isUpgrade reports whether moving to the target applies immediately: a larger tier, or the
// annual price of the same tier. Everything else waits for the end of the period
func isUpgrade(fromTier Tier, fromInterval Interval, toTier Tier, toInterval Interval) bool {
	if toTier.Rank() != fromTier.Rank() {
		return toTier.Rank() > fromTier.Rank()
	}
	return fromInterval == IntervalMonthly && toInterval == IntervalAnnual
}

func (s *Service) switchSubscription(ctx context.Context, logger *zap.Logger, org *organization.Organization, form IntentForm) (string, error) {
	sub, err := s.current(ctx, org)
	if err != nil {
		return "", err
	}
	if sub.CancelAtPeriodEnd {
		return "", conflict("resume the subscription before changing plans")
	}
	if len(sub.Items) == 0 {
		return "", ErrNoSubscriptionItems
	}
	if sub.Items[0].Price == nil {
		return "", ErrMissingPrice
	}
	fromTier, fromInterval, err := ParseLookupKey(sub.Items[0].Price.LookupKey)
	if err != nil {
		return "", err
	}

	members, err := s.Organizations.CountMembers(ctx, org.ID)
	if err != nil {
		return "", err
	}
	price, err := s.targetPrice(ctx, form.LookupKey, members)
	if err != nil {
		return "", err
	}
	if price.ID == sub.Items[0].PriceID {
		return "", conflict("organization is already on this plan")
	}
	toTier, toInterval, _ := ParseLookupKey(price.LookupKey)

	logger = logger.With(
		zap.String("SubscriptionID", sub.ID),
		zap.String("LookupKey", price.LookupKey),
	)

	if isUpgrade(fromTier, fromInterval, toTier, toInterval) {
		if err := s.releaseSchedule(ctx, sub); err != nil {
			return "", err
		}
		updated, err := s.Provider.SwitchPrice(ctx, sub, price.ID, quantity(members))
		if err != nil {
			return "", err
		}
		logger.Info("Subscription upgraded")
		return "", s.save(ctx, org, updated)
	}

	schedule, err := s.Provider.ScheduleChange(ctx, sub, price.ID, quantity(members))
	if err != nil {
		return "", err
	}
	logger.Info("Subscription change scheduled",
		zap.String("ScheduleID", schedule.ID),
	)
	return "", s.Subscriptions.UpsertSchedule(ctx, schedule)
}

// Router will return the routes of the billing page. It expects organization.RequireMembership upstream
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.getState)
	r.Get("/plans", s.getPlans)
	r.With(organization.RequireManager).Post("/", s.postIntent)

	return r
}
