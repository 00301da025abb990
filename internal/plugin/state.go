package plugin

// State is a plugin's position in the lifecycle. Plugins move
// unloaded -> loaded -> enabled and back one step at a time; unload from
// enabled cascades through disable.
type State int

const (
	// StateUnloaded means the plugin is known (discovered or in the
	// registry) but has no live sandbox.
	StateUnloaded State = iota

	// StateLoaded means the plugin's sandbox is live and on_load ran,
	// but its tools are not registered and its subscriptions are
	// inactive.
	StateLoaded

	// StateEnabled means the plugin is fully active: tools registered,
	// subscriptions delivering.
	StateEnabled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}
