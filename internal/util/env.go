package util

import (
	"os"
	"runtime"
	"sort"
	"strings"
)

// MergeEnv returns base with every key in overrides replaced or appended.
// Keys are compared case-insensitively on Windows.
func MergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		key := e
		if i := strings.IndexByte(e, '='); i >= 0 {
			key = e[:i]
		}
		if _, ok := lookupKey(overrides, key); ok {
			continue
		}
		env = append(env, e)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func lookupKey(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	if runtime.GOOS == "windows" {
		for k, v := range m {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return "", false
}

// PrependPathList puts dir in front of an os.PathListSeparator separated list.
func PrependPathList(dir, list string) string {
	if list == "" {
		return dir
	}
	return dir + string(os.PathListSeparator) + list
}
