package directory

import (
	"context"
	"errors"
	"fmt"

	"crm-reminders/internal/common/zoho"
	"crm-reminders/internal/models"
)

// ContactSource is the part of the Zoho client the directory needs.
type ContactSource interface {
	GetContact(ctx context.Context, contactID string) (*zoho.Contact, error)
}

// ZohoDirectory resolves customers from Zoho CRM contacts. Zoho has no
// notion of CRM transactions, so those lookups go to transactions.
type ZohoDirectory struct {
	contacts     ContactSource
	transactions TransactionLookup
}

func NewZohoDirectory(contacts ContactSource, transactions TransactionLookup) *ZohoDirectory {
	return &ZohoDirectory{contacts: contacts, transactions: transactions}
}

func (d *ZohoDirectory) LookupCustomer(ctx context.Context, id string) (*models.Customer, error) {
	contact, err := d.contacts.GetContact(ctx, id)
	if errors.Is(err, zoho.ErrContactNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("zoho lookup %s: %w", id, err)
	}

	phone := contact.Phone
	if phone == "" {
		phone = contact.Mobile
	}

	return &models.Customer{
		ID:             contact.ID,
		CompanyAndName: contact.FullName(),
		Email:          contact.Email,
		Phone:          phone,
		Remark:         contact.Description,
		CompanyName:    contact.AccountName(),
	}, nil
}

func (d *ZohoDirectory) TransactionExists(ctx context.Context, id string) (bool, error) {
	return d.transactions.TransactionExists(ctx, id)
}
