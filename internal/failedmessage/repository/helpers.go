package repository

import (
	"database/sql"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/allisson/recoverability/internal/errors"
	"github.com/allisson/recoverability/internal/failedmessage/domain"
)

// checkVersionedWrite turns a conditional write that matched no row into a ConflictError.
func checkVersionedWrite(result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return apperrors.NewConflictError("failed message", id.String())
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	values := make([]string, 0, len(ids))
	for _, id := range ids {
		values = append(values, id.String())
	}
	return values
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(search string) string {
	return likeEscaper.Replace(search) + "%"
}

func collectStatusCounts(rows *sql.Rows) (domain.StatusCounts, error) {
	defer func() {
		_ = rows.Close()
	}()

	var counts domain.StatusCounts
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return domain.StatusCounts{}, apperrors.Wrap(err, "failed to scan status count")
		}
		switch domain.Status(status) {
		case domain.StatusUnresolved, domain.StatusRepeatedFailure:
			counts.Unresolved += count
		case domain.StatusArchived:
			counts.Archived += count
		}
	}
	if err := rows.Err(); err != nil {
		return domain.StatusCounts{}, apperrors.Wrap(err, "failed to iterate status counts")
	}
	return counts, nil
}

func collectQueueAddresses(rows *sql.Rows) ([]*domain.QueueAddressView, error) {
	defer func() {
		_ = rows.Close()
	}()

	addresses := make([]*domain.QueueAddressView, 0)
	for rows.Next() {
		var address domain.QueueAddressView
		if err := rows.Scan(&address.PhysicalAddress, &address.FailedCount); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan queue address")
		}
		addresses = append(addresses, &address)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate queue addresses")
	}
	return addresses, nil
}

func collectEndpoints(rows *sql.Rows) ([]*domain.EndpointView, error) {
	defer func() {
		_ = rows.Close()
	}()

	endpoints := make([]*domain.EndpointView, 0)
	for rows.Next() {
		var endpoint domain.EndpointView
		if err := rows.Scan(&endpoint.Name, &endpoint.FailedCount); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan endpoint")
		}
		endpoints = append(endpoints, &endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate endpoints")
	}
	return endpoints, nil
}
