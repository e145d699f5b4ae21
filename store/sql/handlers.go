package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func vaultHandlers() repository.ModelHandlers[*vaultRecord] {
	return repository.ModelHandlers[*vaultRecord]{
		NewRecord: func() *vaultRecord {
			return &vaultRecord{}
		},
		GetID: func(record *vaultRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *vaultRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "address"
		},
		GetIdentifierValue: func(record *vaultRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.Address)
		},
	}
}

func vaultEventHandlers() repository.ModelHandlers[*vaultEventRecord] {
	return repository.ModelHandlers[*vaultEventRecord]{
		NewRecord: func() *vaultEventRecord {
			return &vaultEventRecord{}
		},
		GetID: func(record *vaultEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *vaultEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *vaultEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
