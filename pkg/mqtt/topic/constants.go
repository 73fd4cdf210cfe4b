package topic

// MQTT filter wildcards.
const (
	// Wildcard matches exactly one level: "aefi/v1/online/+" matches "aefi/v1/online/stage-0".
	Wildcard = "+"

	// MultiWildcard matches the current level and everything below it. It
	// must be the last level of a filter.
	MultiWildcard = "#"
)
