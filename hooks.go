package tiercache

// Hooks are lightweight callbacks for high-signal events. Implementations
// MUST be cheap and non-blocking; the engine calls them on hot paths.
// Wrap with hooks/async to offload slow sinks.
type Hooks interface {
	// An entry was deleted by the engine on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A tier operation failed and was degraded to a miss / skipped write.
	// op ∈ {"get", "set", "del", "delete_pattern"}
	TierError(tierName, op string, err error)

	// A tier returned ok=false on Set (backpressure/eviction).
	TierSetRejected(tierName, storageKey string)

	// The tag index failed to register tags for a freshly stored entry.
	// The entry is cached but unreachable by tag until TTL expiry.
	TagRegistrationError(storageKey string, err error)

	// A rule firing was skipped because template expansion failed
	// (malformed template or missing event field).
	RuleExpansionError(trigger, template string, err error)

	// A single pattern or tag failed during a bulk invalidation; the rest
	// of the batch still ran.
	InvalidationItemError(item string, err error)

	// A concurrent miss for storageKey was coalesced onto an in-flight
	// computation instead of recomputing.
	Coalesced(storageKey string)

	// The CDN purge collaborator failed (best-effort; never fatal).
	PurgeError(err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                  {}
func (NopHooks) TierError(string, string, error)          {}
func (NopHooks) TierSetRejected(string, string)           {}
func (NopHooks) TagRegistrationError(string, error)       {}
func (NopHooks) RuleExpansionError(string, string, error) {}
func (NopHooks) InvalidationItemError(string, error)      {}
func (NopHooks) Coalesced(string)                         {}
func (NopHooks) PurgeError(error)                         {}
