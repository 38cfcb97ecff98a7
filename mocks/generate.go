package mocks

//go:generate mockgen -destination=./mock_strategy.go -package=mocks github.com/rxtech-lab/argo-engine/internal/decision Strategy
//go:generate mockgen -destination=./mock_venue.go -package=mocks github.com/rxtech-lab/argo-engine/internal/venue Venue
//go:generate mockgen -destination=./mock_observer.go -package=mocks github.com/rxtech-lab/argo-engine/internal/observer Observer
//go:generate mockgen -destination=./mock_feed.go -package=mocks github.com/rxtech-lab/argo-engine/internal/feed Feed
