// Package directory resolves the customers and transactions that reminders
// reference.
package directory

import (
	"context"

	"crm-reminders/internal/models"
	"crm-reminders/internal/repository"
)

// ErrCustomerNotFound is returned by every Directory for unknown customers.
var ErrCustomerNotFound = repository.ErrCustomerNotFound

// Directory looks up CRM records owned outside this service.
type Directory interface {
	LookupCustomer(ctx context.Context, id string) (*models.Customer, error)
	TransactionExists(ctx context.Context, id string) (bool, error)
}

// TransactionLookup is the transaction half of a Directory.
type TransactionLookup interface {
	TransactionExists(ctx context.Context, id string) (bool, error)
}
