package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path into conf. Unknown fields are rejected so
// typos in a config file surface as startup errors rather than being
// silently ignored.
//
// If expandEnv is true, references to ${VAR} or $VAR in the file are
// replaced with the corresponding environment variable before parsing. The
// replacement is case-sensitive; an undefined variable expands to an empty
// string unless a default is given as ${VAR:default}.
func Load(conf interface{}, path string, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = []byte(expandEnvVars(string(buf)))
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

func expandEnvVars(s string) string {
	return os.Expand(s, func(v string) string {
		elems := strings.SplitN(v, ":", 2)
		key := elems[0]

		env := os.Getenv(key)
		if env == "" && len(elems) == 2 {
			return elems[1]
		}
		return env
	})
}
