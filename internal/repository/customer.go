package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crm-reminders/internal/models"
)

// ErrCustomerNotFound is returned by customer lookups for unknown ids.
var ErrCustomerNotFound = errors.New("customer not found")

// CustomerDirectory reads the CRM's customer and transaction tables. Those
// tables are owned by the CRM backend; this service never writes them.
type CustomerDirectory struct {
	db *sql.DB
}

func NewCustomerDirectory(db *sql.DB) *CustomerDirectory {
	return &CustomerDirectory{db: db}
}

func (d *CustomerDirectory) LookupCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := d.db.QueryRowContext(ctx, `
		SELECT c.id, c.company_and_name, COALESCE(c.email, ''), COALESCE(c.phone, ''),
		       COALESCE(c.gst_no, ''), COALESCE(c.remark, ''), COALESCE(co.name, '')
		FROM customers c
		LEFT JOIN companies co ON co.id = c.company_id
		WHERE c.id = $1`, id).Scan(
		&c.ID, &c.CompanyAndName, &c.Email, &c.Phone,
		&c.GSTNo, &c.Remark, &c.CompanyName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup customer %s: %w", id, err)
	}
	return &c, nil
}

func (d *CustomerDirectory) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup transaction %s: %w", id, err)
	}
	return exists, nil
}
