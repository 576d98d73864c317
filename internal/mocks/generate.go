// Package mocks provides gomock implementations of the reclaim ports for tests.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockEntityStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), ref).Return(entity, nil)
package mocks

// MockCacheRepository: Set, Get, Delete, SetIfNotExists, Health
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/target/reclaim/internal/core CacheRepository

// MockJobRepository: the finalize job queue, including Retry and ExistsActiveForEntity
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/target/reclaim/internal/core JobRepository

// MockEntityStore: entity persistence and association lookups
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=entity_store_mock.go github.com/target/reclaim/internal/core EntityStore

// MockReaperRepository: DeleteOldJobs
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reaper_repository_mock.go github.com/target/reclaim/internal/core ReaperRepository

// MockDependentRepository: Count, ListNotDeleted
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=dependent_repository_mock.go github.com/target/reclaim/internal/domain/lifecycle DependentRepository

// MockFinalizeEnqueuer: EnqueueFinalize
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=finalize_enqueuer_mock.go github.com/target/reclaim/internal/core FinalizeEnqueuer
