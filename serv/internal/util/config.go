package util

import (
	"strings"

	"github.com/spf13/viper"
)

// SetKeyValue sets a config key from an environment variable such as
// EDM_MONGO_URI. Underscores are turned into dots one at a time, left to
// right, until a key viper knows about is found. It returns false when no
// key matched.
func SetKeyValue(vi *viper.Viper, key string, value interface{}) bool {
	key = strings.TrimPrefix(key, "EDM_")

	uc := strings.Count(key, "_")
	k := strings.ToLower(key)

	if vi.Get(k) != nil {
		vi.Set(k, value)
		return true
	}

	for i := 0; i < uc; i++ {
		k = strings.Replace(k, "_", ".", 1)
		if vi.Get(k) != nil {
			vi.Set(k, value)
			return true
		}
	}

	return false
}
