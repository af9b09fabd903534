package entity

// NotifyKind selects the message template used by the notification
// dispatcher. Dispatch is fire-and-forget; kinds never affect the
// already-computed scan decision.
type NotifyKind string

const (
	NotifyVisitorArrived  NotifyKind = "visitor_arrived"
	NotifyAccessGranted   NotifyKind = "access_granted"
	NotifyPassRevoked     NotifyKind = "pass_revoked"
	NotifyPaymentReceived NotifyKind = "payment_received"
)
