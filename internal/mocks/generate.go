// Package mocks provides mock implementations for testing the job engine.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the core ports.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockJobStore(ctrl)
//	store.EXPECT().Load(gomock.Any(), "job-1").Return(job, nil)
package mocks

// Generate mock for JobStore interface from internal/core package.
// This creates MockJobStore with methods for all JobStore interface methods:
// Create, Load, Save, QueryEligible, List, Stats, WaitForNotification
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_store_mock.go github.com/target/jobengine/internal/core JobStore

// Generate mock for JobLeaser interface from internal/core package.
// This creates MockJobLeaser with methods for all JobLeaser interface methods:
// ClaimNext, ListExpiredLeases
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_leaser_mock.go github.com/target/jobengine/internal/core JobLeaser

// Generate mock for EventPublisher interface from internal/core package.
// This creates MockEventPublisher with methods for all EventPublisher interface methods:
// Publish
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=event_publisher_mock.go github.com/target/jobengine/internal/core EventPublisher
