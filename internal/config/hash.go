package config

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// fingerprint identifies a config by content so that editor save bursts that
// leave the file unchanged do not trigger a reload. Zero means unknown.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

// jsonFieldName makes validator errors use the config-file key names.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}
