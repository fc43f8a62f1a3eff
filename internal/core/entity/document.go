package entity

import (
	"context"
	"time"

	"abasto/internal/core/apperror"
	"abasto/internal/core/lifecycle"
)

// Document is the base type for pipeline documents
// (Request, Purchase Order, Goods Receipt, Dispatch).
type Document struct {
	BaseDocument

	// Number is the document number (auto-generated, unique within kind)
	Number string `db:"number" json:"number"`

	// Date is the business date of the document
	Date time.Time `db:"date" json:"date"`

	// State is the current lifecycle state (see lifecycle package)
	State lifecycle.State `db:"state" json:"state"`

	// ReadOnly is set when reconciliation detects a pre-existing data
	// inconsistency; the record awaits manual reconciliation and rejects
	// further mutation so errors do not compound.
	ReadOnly bool `db:"read_only" json:"readOnly"`

	// Comment is an optional user comment
	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a new Document of the given kind in its initial state.
func NewDocument(kind lifecycle.Kind) Document {
	return Document{
		BaseDocument: NewBaseDocument(),
		Date:         time.Now().UTC(),
		State:        lifecycle.Initial(kind),
	}
}

// Validate implements Validatable interface.
func (d *Document) Validate(ctx context.Context) error {
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}
	if d.State == "" {
		return apperror.NewValidation("state is required").
			WithDetail("field", "state")
	}
	return nil
}

// CanModify checks whether the document accepts mutation.
func (d *Document) CanModify(kind lifecycle.Kind) error {
	if d.ReadOnly {
		return apperror.NewDataIntegrity(string(kind), d.ID.String(),
			"record is read-only pending manual reconciliation")
	}
	if lifecycle.IsTerminal(kind, d.State) {
		return apperror.NewDocumentClosed(string(kind), d.ID.String(), string(d.State))
	}
	return nil
}

// Transition fires the lifecycle event and records the new state.
func (d *Document) Transition(kind lifecycle.Kind, event lifecycle.Event) error {
	next, err := lifecycle.Fire(kind, d.State, event)
	if err != nil {
		if appErr, ok := apperror.AsAppError(err); ok && appErr.Code == apperror.CodeDocumentClosed {
			appErr.WithDetail("id", d.ID.String())
		}
		return err
	}
	d.State = next
	d.Touch()
	return nil
}

// MarkReadOnly flags the document as a data-integrity casualty.
func (d *Document) MarkReadOnly() {
	d.ReadOnly = true
	d.Touch()
}
