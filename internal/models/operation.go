package models

import "github.com/shopspring/decimal"

// Operation is a ledger entry of a Person. Value is signed.
type Operation struct {
	Base
	SoftDelete

	Value       decimal.Decimal
	Description string
	PersonID    int64
}

// NewOperation creates an unsaved operation.
func NewOperation(personID int64, value decimal.Decimal, description string) *Operation {
	return &Operation{PersonID: personID, Value: value, Description: description}
}

func (o *Operation) Table() *Table { return OperationTable }

func (o *Operation) Values() []any {
	return []any{o.Created, o.Deleted, o.Value, o.Description, o.PersonID}
}

func (o *Operation) Targets() []any {
	return []any{&o.ID, &o.Created, &o.Deleted, &o.Value, &o.Description, &o.PersonID}
}
