package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// CustomerRepositoryInterface is the read-only audience storage the resolver needs.
type CustomerRepositoryInterface interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Customer, error)
	ListGroupMembers(ctx context.Context, ownerID, groupID int64) ([]model.Customer, error)
	GroupExists(ctx context.Context, ownerID, groupID int64) (bool, error)
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *sql.DB
}

const customerColumns = `id, created_by, full_name, email, phone_number, group_id`

func scanCustomers(rows *sql.Rows) ([]model.Customer, error) {
	defer rows.Close()
	customers := []model.Customer{}
	for rows.Next() {
		var (
			c   model.Customer
			gid sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.FullName, &c.Email, &c.PhoneNumber, &gid); err != nil {
			return nil, err
		}
		if gid.Valid {
			c.GroupID = &gid.Int64
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// ListByOwner fetches every customer of a user in insertion order
func (r *CustomerRepository) ListByOwner(ctx context.Context, ownerID int64) ([]model.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE created_by=$1 ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return scanCustomers(rows)
}

// ListGroupMembers returns the group's customers in the order the group lists them.
func (r *CustomerRepository) ListGroupMembers(ctx context.Context, ownerID, groupID int64) ([]model.Customer, error) {
	var ids pq.Int64Array
	err := r.DB.QueryRowContext(ctx,
		`SELECT customer_ids FROM groups WHERE id=$1 AND created_by=$2`, groupID, ownerID).Scan(&ids)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewGroupNotFound(groupID)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Customer{}, nil
	}

	query := `
        SELECT c.id, c.created_by, c.full_name, c.email, c.phone_number, c.group_id
        FROM unnest($1::bigint[]) WITH ORDINALITY AS m(customer_id, pos)
        JOIN customers c ON c.id = m.customer_id
        WHERE c.created_by=$2
        ORDER BY m.pos
    `
	rows, err := r.DB.QueryContext(ctx, query, ids, ownerID)
	if err != nil {
		return nil, err
	}
	return scanCustomers(rows)
}

func (r *CustomerRepository) GroupExists(ctx context.Context, ownerID, groupID int64) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM groups WHERE id=$1 AND created_by=$2)`, groupID, ownerID).Scan(&exists)
	return exists, err
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
