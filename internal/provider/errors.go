package provider

import "errors"

// ErrNoProvider is returned when no available provider can be scored
// for a request
var ErrNoProvider = errors.New("no suitable provider available")

// ErrAllProvidersFailed is returned when the primary call and every
// fallback attempt failed
var ErrAllProvidersFailed = errors.New("all providers failed")

// ErrRateLimited is returned when a provider's request budget is
// exhausted; it matches the transient error categories
var ErrRateLimited = errors.New("provider rate limit exceeded")
