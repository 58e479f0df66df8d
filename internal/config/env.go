package config

import (
	"os"
	"sort"
)

// Environ builds the child's environment: allowlisted variables copied from
// the bridge's own environment, then explicit Env entries, which win.
// Nothing else from the bridge leaks into the child.
func (c ChildConfig) Environ() []string {
	return c.environ(os.LookupEnv)
}

func (c ChildConfig) environ(lookup func(string) (string, bool)) []string {
	vars := make(map[string]string, len(c.EnvAllow)+len(c.Env))
	for _, name := range c.EnvAllow {
		if v, ok := lookup(name); ok {
			vars[name] = v
		}
	}
	for k, v := range c.Env {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
