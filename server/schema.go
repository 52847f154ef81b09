package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// configSchema constrains the shape of a TOML configuration after conversion to JSON.
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["pyramid", "source", "store"],
	"definitions": {
		"point": {
			"type": "array",
			"items": {"type": "integer"},
			"minItems": 3,
			"maxItems": 3
		},
		"positivePoint": {
			"type": "array",
			"items": {"type": "integer", "minimum": 1},
			"minItems": 3,
			"maxItems": 3
		},
		"compression": {
			"type": "string",
			"enum": ["", "none", "uncompressed", "snappy", "lz4", "gzip", "zstd"]
		}
	},
	"properties": {
		"server": {
			"type": "object",
			"properties": {
				"httpAddress": {"type": "string"},
				"host": {"type": "string"},
				"note": {"type": "string"},
				"corsDomains": {"type": "array", "items": {"type": "string"}},
				"maxConnections": {"type": "integer", "minimum": 0},
				"shutdownDelay": {"type": "integer", "minimum": 0}
			}
		},
		"auth": {
			"type": "object",
			"properties": {"secret_key": {"type": "string"}}
		},
		"logging": {
			"type": "object",
			"properties": {
				"logfile": {"type": "string"},
				"max_log_size": {"type": "integer", "minimum": 0},
				"max_log_age": {"type": "integer", "minimum": 0}
			}
		},
		"pyramid": {
			"type": "object",
			"required": ["factors", "stores"],
			"properties": {
				"block_size": {"$ref": "#/definitions/positivePoint"},
				"factors": {"type": "array", "items": {"$ref": "#/definitions/positivePoint"}},
				"workers": {"type": "integer", "minimum": 0},
				"stores": {"type": "array", "items": {"type": "string", "minLength": 1}},
				"compression": {"$ref": "#/definitions/compression"}
			}
		},
		"source": {
			"type": "object",
			"required": ["store", "chunk_size", "min", "max"],
			"properties": {
				"store": {"type": "string", "minLength": 1},
				"chunk_size": {"$ref": "#/definitions/positivePoint"},
				"min": {"$ref": "#/definitions/point"},
				"max": {"$ref": "#/definitions/point"},
				"compression": {"$ref": "#/definitions/compression"}
			}
		},
		"store": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["engine"],
				"properties": {"engine": {"type": "string", "minLength": 1}}
			}
		},
		"cache": {
			"type": "object",
			"properties": {"freecache_mb": {"type": "integer", "minimum": 0}}
		},
		"groupcache": {
			"type": "object",
			"properties": {
				"mb": {"type": "integer", "minimum": 0},
				"host": {"type": "string"},
				"peers": {"type": "array", "items": {"type": "string"}}
			}
		},
		"kafka": {
			"type": "object",
			"properties": {
				"topicactivity": {"type": "string"},
				"servers": {"type": "array", "items": {"type": "string"}},
				"buffersize": {"type": "integer", "minimum": 0}
			}
		},
		"mutations": {
			"type": "object",
			"properties": {"jsonstore": {"type": "string"}}
		},
		"keyvalue": {
			"type": "object",
			"additionalProperties": {"type": "string", "minLength": 1}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("config.json", configSchema)
	})
	return compiledSchema, schemaErr
}

// validateConfig checks a TOML configuration against the configuration schema.
func validateConfig(content string) error {
	sch, err := getSchema()
	if err != nil {
		return fmt.Errorf("bad configuration schema: %v", err)
	}
	var raw map[string]interface{}
	if _, err := toml.Decode(content, &raw); err != nil {
		return fmt.Errorf("could not decode TOML config: %v", err)
	}
	// the validator expects values as decoded from JSON.
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	return nil
}
