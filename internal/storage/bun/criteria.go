package bunrepo

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

func withReference(service, key string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("service = ?", strings.ToLower(service)).Where("key = ?", key)
	}
}

func withService(service string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if service == "" {
			return q
		}
		return q.Where("service = ?", strings.ToLower(service))
	}
}

func orderedByReference() repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Order("service ASC", "key ASC")
	}
}
