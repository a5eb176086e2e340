package models

import "github.com/shopspring/decimal"

// Person is a named sub-account belonging to exactly one User.
// The (UserID, Name) pair is unique.
type Person struct {
	Base
	SoftDelete

	Name    string
	Balance decimal.Decimal
	UserID  int64
}

// NewPerson creates an unsaved person with the given opening balance.
func NewPerson(userID int64, name string, balance decimal.Decimal) *Person {
	return &Person{UserID: userID, Name: name, Balance: balance}
}

// Apply adds value to the balance. Nothing is persisted until the person is
// attached to a session and flushed.
func (p *Person) Apply(value decimal.Decimal) {
	p.Balance = p.Balance.Add(value)
}

func (p *Person) Table() *Table { return PersonTable }

func (p *Person) Values() []any {
	return []any{p.Created, p.Deleted, p.Name, p.Balance, p.UserID}
}

func (p *Person) Targets() []any {
	return []any{&p.ID, &p.Created, &p.Deleted, &p.Name, &p.Balance, &p.UserID}
}
