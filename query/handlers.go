package query

import (
	"context"

	"github.com/goliatone/go-treasury/core"
)

type VaultReader interface {
	GetBalance(ctx context.Context, req core.GetBalanceRequest) (core.Balance, error)
	GetVault(ctx context.Context, address core.Address) (core.VaultRecord, error)
	ListEvents(ctx context.Context, filter core.EventFilter) ([]core.EventRecord, error)
}

type GetBalanceQuery struct {
	reader VaultReader
}

func NewGetBalanceQuery(reader VaultReader) *GetBalanceQuery {
	return &GetBalanceQuery{reader: reader}
}

func (q *GetBalanceQuery) Query(ctx context.Context, msg GetBalanceMessage) (core.Balance, error) {
	if q == nil || q.reader == nil {
		return core.Balance{}, queryDependencyError("query: vault reader is required")
	}
	return q.reader.GetBalance(ctx, msg.Request)
}

type GetVaultQuery struct {
	reader VaultReader
}

func NewGetVaultQuery(reader VaultReader) *GetVaultQuery {
	return &GetVaultQuery{reader: reader}
}

func (q *GetVaultQuery) Query(ctx context.Context, msg GetVaultMessage) (core.VaultRecord, error) {
	if q == nil || q.reader == nil {
		return core.VaultRecord{}, queryDependencyError("query: vault reader is required")
	}
	return q.reader.GetVault(ctx, msg.Vault)
}

type ListEventsQuery struct {
	reader VaultReader
}

func NewListEventsQuery(reader VaultReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) ([]core.EventRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: vault reader is required")
	}
	return q.reader.ListEvents(ctx, msg.Filter)
}
