package loginhook

const version = "1.0.3"

// Version returns the dispatcher version string.
func Version() string {
	return version
}
