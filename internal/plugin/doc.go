// Package plugin manages the lifecycle of sandboxed Lua plugins:
// discovery, manifest validation, permission granting, loading into a
// sandboxed runtime, enable/disable of tools and subscriptions, and
// unload.
//
// Plugins move unloaded -> loaded -> enabled one step at a time. Loading
// builds the sandbox and runs on_load; enabling runs on_enable, mirrors
// the plugin's tools into the host tool table under pluginID.toolName,
// and activates its event subscriptions; disabling and unloading reverse
// those steps, with unload cascading through disable. Redundant
// transitions are warnings, not errors.
//
// The Manager serializes lifecycle calls per plugin ID; the Registry
// persists transitions write-through to a JSON file so history survives
// restarts, though enablement is never resumed automatically.
package plugin
