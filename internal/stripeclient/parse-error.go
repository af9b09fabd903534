package stripeclient

import (
	"encoding/json"
	"fmt"
)

type stripeErrorRaw struct {
	Status        int    `json:"status"`
	Message       string `json:"message"`
	Type          string `json:"type"`
	RequestID     string `json:"request_id"`
	RequestLogURL string `json:"request_log_url"`
}

// parseErr condenses the JSON blob stripe-go puts into error strings
// down to status and message. Non-JSON errors pass through unchanged.
func (s *StripeClient) parseErr(err error) error {
	var se stripeErrorRaw
	if e := json.Unmarshal([]byte(err.Error()), &se); e != nil {
		return err
	}
	return fmt.Errorf("status %d: %s", se.Status, se.Message)
}
