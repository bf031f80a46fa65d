package repository

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

// dialect captures the placeholder and UUID encoding differences between drivers.
type dialect struct {
	placeholder func(n int) string
	uuidArg     func(id uuid.UUID) (any, error)
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	uuidArg:     func(id uuid.UUID) (any, error) { return id, nil },
}

var mysqlDialect = dialect{
	placeholder: func(int) string { return "?" },
	uuidArg: func(id uuid.UUID) (any, error) {
		return id.MarshalBinary()
	},
}

// queryBuilder accumulates positional arguments and WHERE clauses for one statement.
type queryBuilder struct {
	dialect dialect
	clauses []string
	args    []any
}

func newQueryBuilder(d dialect) *queryBuilder {
	return &queryBuilder{dialect: d}
}

// arg registers a value and returns its placeholder.
func (b *queryBuilder) arg(value any) string {
	b.args = append(b.args, value)
	return b.dialect.placeholder(len(b.args))
}

func (b *queryBuilder) uuidArg(id uuid.UUID) (string, error) {
	value, err := b.dialect.uuidArg(id)
	if err != nil {
		return "", err
	}
	return b.arg(value), nil
}

func (b *queryBuilder) where(clause string) {
	b.clauses = append(b.clauses, clause)
}

// whereSQL renders the accumulated clauses, or an empty string when there are none.
func (b *queryBuilder) whereSQL() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *queryBuilder) uuidList(ids []uuid.UUID) (string, error) {
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		placeholder, err := b.uuidArg(id)
		if err != nil {
			return "", err
		}
		placeholders = append(placeholders, placeholder)
	}
	return strings.Join(placeholders, ", "), nil
}

func (b *queryBuilder) statusList(statuses []domain.Status) string {
	placeholders := make([]string, 0, len(statuses))
	for _, status := range statuses {
		placeholders = append(placeholders, b.arg(string(status)))
	}
	return strings.Join(placeholders, ", ")
}

// applyFilter adds the predicates of filter against the failed_messages alias fm.
func (b *queryBuilder) applyFilter(filter domain.Filter) error {
	if len(filter.IDs) > 0 {
		list, err := b.uuidList(filter.IDs)
		if err != nil {
			return err
		}
		b.where("fm.id IN (" + list + ")")
	}
	if len(filter.Statuses) > 0 {
		b.where("fm.status IN (" + b.statusList(filter.Statuses) + ")")
	}
	if filter.ReceivingEndpoint != "" {
		b.where("fm.receiving_endpoint = " + b.arg(filter.ReceivingEndpoint))
	}
	if filter.QueueAddress != "" {
		b.where("fm.queue_address = " + b.arg(filter.QueueAddress))
	}
	if filter.GroupID != uuid.Nil {
		placeholder, err := b.uuidArg(filter.GroupID)
		if err != nil {
			return err
		}
		b.where(
			"EXISTS (SELECT 1 FROM failed_message_groups g WHERE g.failed_message_id = fm.id AND g.group_id = " + placeholder + ")",
		)
	}
	if filter.ModifiedFrom != nil {
		b.where("fm.last_modified >= " + b.arg(filter.ModifiedFrom.UTC()))
	}
	if filter.ModifiedTo != nil {
		b.where("fm.last_modified <= " + b.arg(filter.ModifiedTo.UTC()))
	}
	return nil
}

// applyCursor restricts the query to rows strictly after cursor in (last_modified, id) order.
func (b *queryBuilder) applyCursor(cursor domain.Cursor) error {
	if cursor.IsZero() {
		return nil
	}
	lastModified := cursor.LastModified.UTC()
	first := b.arg(lastModified)
	second := b.arg(lastModified)
	id, err := b.uuidArg(cursor.ID)
	if err != nil {
		return err
	}
	b.where(fmt.Sprintf("(fm.last_modified > %s OR (fm.last_modified = %s AND fm.id > %s))", first, second, id))
	return nil
}
