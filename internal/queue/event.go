// Package queue defines the audit messages exchanged over RabbitMQ, the
// publisher used by the service layer and the consumer that appends them
// to the audit log.
package queue

// DefaultAuditQueue is the durable queue audit events are routed to.
const DefaultAuditQueue = "forms.audit"

// Audit event types.
const (
	EventFormCreated        = "form.created"
	EventAssignmentsChanged = "form.assignments_changed"
	EventFormDeleted        = "form.deleted"
	EventResponseSubmitted  = "response.submitted"
)

// AuditEvent records a change to a form or its assignment set.  It carries
// enough context for the audit log to be read without querying the
// primary store.
type AuditEvent struct {
	Type       string   `json:"type"`
	ActorID    string   `json:"actor_id"`
	FormID     string   `json:"form_id"`
	FormTitle  string   `json:"form_title"`
	PatientID  string   `json:"patient_id,omitempty"`
	Added      []string `json:"added,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	OccurredAt string   `json:"occurred_at"`
}
