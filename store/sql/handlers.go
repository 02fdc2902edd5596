package sqlstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// recordHandlers wires a record type into go-repository-bun. Every table is
// keyed by a string uuid column named id.
func recordHandlers[T any](newRecord func() T, id func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			ptr := id(record)
			if ptr == nil {
				return uuid.Nil
			}
			return parseUUID(*ptr)
		},
		SetID: func(record T, value uuid.UUID) {
			if ptr := id(record); ptr != nil {
				*ptr = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			if ptr := id(record); ptr != nil {
				return strings.TrimSpace(*ptr)
			}
			return ""
		},
	}
}

func programHandlers() repository.ModelHandlers[*programRecord] {
	return recordHandlers(func() *programRecord { return &programRecord{} }, func(r *programRecord) *string {
		if r == nil {
			return nil
		}
		return &r.ID
	})
}

func participantHandlers() repository.ModelHandlers[*participantRecord] {
	return recordHandlers(func() *participantRecord { return &participantRecord{} }, func(r *participantRecord) *string {
		if r == nil {
			return nil
		}
		return &r.ID
	})
}

func passHandlers() repository.ModelHandlers[*passRecord] {
	return recordHandlers(func() *passRecord { return &passRecord{} }, func(r *passRecord) *string {
		if r == nil {
			return nil
		}
		return &r.ID
	})
}

func notificationJobHandlers() repository.ModelHandlers[*notificationJobRecord] {
	return recordHandlers(func() *notificationJobRecord { return &notificationJobRecord{} }, func(r *notificationJobRecord) *string {
		if r == nil {
			return nil
		}
		return &r.ID
	})
}

func diagnosticRunHandlers() repository.ModelHandlers[*diagnosticRunRecord] {
	return recordHandlers(func() *diagnosticRunRecord { return &diagnosticRunRecord{} }, func(r *diagnosticRunRecord) *string {
		if r == nil {
			return nil
		}
		return &r.ID
	})
}

func newRepository[T any](db *bun.DB, name string, handlers repository.ModelHandlers[T]) (repository.Repository[T], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[T](db, handlers)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return repo, nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
