package secrets

import "os"

// EnvLoader returns a Loader that reads the specified environment variables.
// Missing variables fall back to defaults and are omitted when neither is set.
func EnvLoader(defaults map[string]string, keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			} else if d := defaults[k]; d != "" {
				vals[k] = d
			}
		}
		return vals, nil
	}
}
