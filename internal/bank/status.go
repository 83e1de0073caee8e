package bank

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the closed internal vocabulary provider responses are mapped into.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

var statusVocabulary = map[string]Status{
	"paid":        StatusPaid,
	"success":     StatusPaid,
	"successful":  StatusPaid,
	"succeeded":   StatusPaid,
	"completed":   StatusPaid,
	"complete":    StatusPaid,
	"done":        StatusPaid,
	"approved":    StatusPaid,
	"ok":          StatusPaid,
	"failed":      StatusFailed,
	"fail":        StatusFailed,
	"failure":     StatusFailed,
	"error":       StatusFailed,
	"cancelled":   StatusFailed,
	"canceled":    StatusFailed,
	"rejected":    StatusFailed,
	"declined":    StatusFailed,
	"expired":     StatusFailed,
	"pending":     StatusPending,
	"created":     StatusPending,
	"processing":  StatusPending,
	"new":         StatusPending,
	"wait":        StatusPending,
	"waiting":     StatusPending,
	"in_progress": StatusPending,
	"inprogress":  StatusPending,
}

var (
	statusFields = []string{"status", "payment_status", "paymentStatus", "state", "result"}
	idFields     = []string{"operationID", "operationId", "operation_id", "transactionId", "transaction_id", "transactionID", "paymentId", "payment_id", "id"}
)

// Translate maps a raw provider status string into Status.
func Translate(raw string) Status {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if s, ok := statusVocabulary[key]; ok {
		return s
	}
	return StatusUnknown
}

// Notification is a provider push after field-name resolution.
type Notification struct {
	IDs       []string
	RawStatus string
	Status    Status
	Payload   map[string]interface{}
}

// ParseNotification resolves the status and every identifier the provider
// may have echoed back, in field priority order.
func ParseNotification(payload map[string]interface{}) Notification {
	n := Notification{Payload: payload, Status: StatusUnknown}
	n.RawStatus = firstString(payload, statusFields)
	if n.RawStatus == "" {
		if b, ok := payload["success"].(bool); ok {
			n.RawStatus = fmt.Sprint(b)
			if b {
				n.Status = StatusPaid
			} else {
				n.Status = StatusFailed
			}
		}
	} else {
		n.Status = Translate(n.RawStatus)
	}

	seen := make(map[string]struct{})
	for _, f := range idFields {
		v := stringValue(payload[f])
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		n.IDs = append(n.IDs, v)
	}
	return n
}

func firstString(payload map[string]interface{}, fields []string) string {
	for _, f := range fields {
		if v := stringValue(payload[f]); v != "" {
			return v
		}
	}
	return ""
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
