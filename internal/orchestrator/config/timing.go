package config

import "time"

// Default timing configurations used throughout the orchestrator
const (
	// DefaultResponseWindow is how long a waiting session holds for user input
	DefaultResponseWindow = 30 * time.Second

	// DefaultTimeoutSweepInterval is how often to check waiting sessions
	// against their deadlines
	DefaultTimeoutSweepInterval = 1 * time.Second

	// DefaultSessionMaxAge is how long finished sessions are retained
	DefaultSessionMaxAge = 30 * time.Minute

	// DefaultCleanupInterval is how often to sweep finished sessions
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultSubscriberBuffer is the per-subscriber event channel capacity
	DefaultSubscriberBuffer = 64

	// DefaultContextSectionLimit caps each assembled context section, in runes
	DefaultContextSectionLimit = 4000

	// DefaultAgentTimeout bounds a single agent call
	DefaultAgentTimeout = 30 * time.Second

	// DefaultAgentMaxRetries is how many times a failed agent call is retried
	DefaultAgentMaxRetries = 3
)

// Default session caps
const (
	// DefaultMaxIterations is the dialogue cycle cap per session
	DefaultMaxIterations = 5

	// DefaultMaxInterventions is the accepted user intervention cap per session
	DefaultMaxInterventions = 3
)
