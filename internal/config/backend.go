package config

// ConfigBackend is the platform-native store for non-secret settings. The
// macOS implementation shells out to `defaults` (UserDefaults domain
// com.earshot.app); other platforms keep a JSON document under
// $XDG_CONFIG_HOME. Reads report presence separately from errors so an
// absent key falls through to the compiled-in default.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
