package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/trendlytics/trendlytics/app/models"
	"github.com/trendlytics/trendlytics/app/repository"
	"github.com/trendlytics/trendlytics/internal/pkg/tiers"
)

// Event is the parsed webhook envelope. Data stays raw until the
// per-type handler decodes it.
type Event struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// Outcome summarizes processing of a single webhook delivery for the
// HTTP response and for logs.
type Outcome struct {
	EventID          string
	EventType        string
	ProcessingStatus string
	Duplicate        bool
}

// ErrMalformedPayload means the request body was not a usable webhook
// envelope.
var ErrMalformedPayload = fmt.Errorf("billing: malformed webhook payload")

// Processor ingests provider webhooks: verifies the signature, records
// an audit row exactly once per event id, and dispatches to the
// handler for the event type.
type Processor struct {
	secret  string
	events  repository.BillingEventRepository
	handler *eventHandlers
}

// NewProcessor wires a webhook processor against the repository layer.
func NewProcessor(secret string, repos *repository.Repositories, catalog *tiers.Catalog) *Processor {
	return &Processor{
		secret: secret,
		events: repos.BillingEvent,
		handler: &eventHandlers{
			users:         repos.User,
			subscriptions: repos.Subscription,
			catalog:       catalog,
		},
	}
}

// Process handles one raw webhook delivery.
//
// The audit row is inserted before any business logic runs, with an
// insert-if-absent on the external event id: a redelivery finds the
// row already present and returns the stored outcome without touching
// subscription state. Failure to write the audit row is the only error
// that surfaces as a processing failure to the provider; handler
// errors are recorded on the row and acknowledged so the provider does
// not retry an event we have already durably captured.
func (p *Processor) Process(ctx context.Context, signatureHeader string, body []byte) (*Outcome, error) {
	if err := VerifySignature(p.secret, signatureHeader, body); err != nil {
		return nil, err
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if evt.EventID == "" || evt.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_id or event_type", ErrMalformedPayload)
	}

	row := &models.BillingEvent{
		ExternalEventID:  evt.EventID,
		EventType:        evt.EventType,
		RawPayload:       string(body),
		ProcessingStatus: models.EventStatusReceived,
		OccurredAt:       evt.OccurredAt,
	}
	fillReferenceIDs(row, evt.Data)

	created, stored, err := p.events.CreateIfNotExists(row)
	if err != nil {
		return nil, fmt.Errorf("billing: recording webhook event %s: %w", evt.EventID, err)
	}
	if !created {
		log.Printf("[Billing] Duplicate webhook delivery for event %s (%s), status %s", evt.EventID, evt.EventType, stored.ProcessingStatus)
		return &Outcome{
			EventID:          evt.EventID,
			EventType:        evt.EventType,
			ProcessingStatus: "duplicate",
			Duplicate:        true,
		}, nil
	}

	status := models.EventStatusProcessed
	processingError := ""
	if err := p.dispatch(ctx, &evt); err != nil {
		var pe *handlerPanicError
		switch {
		case err == errUnhandledEventType:
			status = models.EventStatusIgnored
		case errors.As(err, &pe):
			status = models.EventStatusCriticalFailure
			processingError = pe.Error()
			log.Printf("[Billing] Handler for event %s (%s) panicked: %v", evt.EventID, evt.EventType, pe.value)
		default:
			status = models.EventStatusFailed
			processingError = err.Error()
			log.Printf("[Billing] Handler for event %s (%s) failed: %v", evt.EventID, evt.EventType, err)
		}
	}

	if err := p.events.MarkProcessed(stored.ID, status, processingError); err != nil {
		// The business effect already happened; the row just keeps its
		// transient status. Log and report what actually ran.
		log.Printf("[Billing] Failed to finalize audit row for event %s: %v", evt.EventID, err)
	}

	return &Outcome{
		EventID:          evt.EventID,
		EventType:        evt.EventType,
		ProcessingStatus: status,
	}, nil
}

// handlerPanicError carries a recovered panic value out of dispatch so
// the audit row can record the critical failure.
type handlerPanicError struct {
	value any
}

func (e *handlerPanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}

// dispatch runs the per-type handler, converting a panic into an error
// so the audit row always reaches a terminal status instead of being
// left stuck in the received state.
func (p *Processor) dispatch(ctx context.Context, evt *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerPanicError{value: r}
		}
	}()
	return p.handler.dispatch(ctx, evt)
}

// fillReferenceIDs copies provider reference ids from the event data
// onto the audit row so failed events can be traced without re-parsing
// raw payloads.
func fillReferenceIDs(row *models.BillingEvent, data json.RawMessage) {
	var refs struct {
		ID             string `json:"id"`
		CustomerID     string `json:"customer_id"`
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.Unmarshal(data, &refs); err != nil {
		return
	}
	row.ProviderCustomerID = refs.CustomerID
	switch {
	case refs.SubscriptionID != "":
		row.ProviderSubscriptionID = refs.SubscriptionID
	case strings.HasPrefix(refs.ID, "sub_"):
		row.ProviderSubscriptionID = refs.ID
	case strings.HasPrefix(refs.ID, "txn_"):
		row.ProviderTransactionID = refs.ID
	}
}
