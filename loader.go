package conflux

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zoobzio/capitan"
	"gopkg.in/yaml.v3"
)

// LoadDefinitionFile reads a definition from a file.
// Supports JSON and YAML formats based on file extension.
func LoadDefinitionFile(path string) (Definition, error) {
	ctx := context.Background()
	data, err := os.ReadFile(path)
	if err != nil {
		capitan.Emit(ctx, DefinitionFileFailed,
			KeyPath.Field(path),
			KeyError.Field(err.Error()))
		return Definition{}, fmt.Errorf("failed to read file: %w", err)
	}

	capitan.Emit(ctx, DefinitionFileLoaded,
		KeyPath.Field(path),
		KeySizeBytes.Field(len(data)))

	var def Definition
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			capitan.Emit(ctx, DefinitionParseFailed,
				KeyPath.Field(path),
				KeyError.Field(err.Error()))
			return Definition{}, fmt.Errorf("failed to parse JSON: %w", err)
		}
		capitan.Emit(ctx, DefinitionJSONParsed, parsedFields(path, def)...)
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			capitan.Emit(ctx, DefinitionParseFailed,
				KeyPath.Field(path),
				KeyError.Field(err.Error()))
			return Definition{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
		capitan.Emit(ctx, DefinitionYAMLParsed, parsedFields(path, def)...)
	default:
		return Definition{}, fmt.Errorf("unsupported file format: %s", ext)
	}
	return def, nil
}

// ParseJSON decodes a definition from a JSON string.
func ParseJSON(jsonStr string) (Definition, error) {
	var def Definition
	if err := json.Unmarshal([]byte(jsonStr), &def); err != nil {
		capitan.Emit(context.Background(), DefinitionParseFailed,
			KeyError.Field(err.Error()))
		return Definition{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	capitan.Emit(context.Background(), DefinitionJSONParsed, parsedFields("", def)...)
	return def, nil
}

// ParseYAML decodes a definition from a YAML string.
func ParseYAML(yamlStr string) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal([]byte(yamlStr), &def); err != nil {
		capitan.Emit(context.Background(), DefinitionParseFailed,
			KeyError.Field(err.Error()))
		return Definition{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	capitan.Emit(context.Background(), DefinitionYAMLParsed, parsedFields("", def)...)
	return def, nil
}

func parsedFields(path string, def Definition) []capitan.Field {
	var fields []capitan.Field
	if path != "" {
		fields = append(fields, KeyPath.Field(path))
	}
	if def.Name != "" {
		fields = append(fields, KeyName.Field(def.Name))
	}
	if def.Version != "" {
		fields = append(fields, KeyVersion.Field(def.Version))
	}
	return fields
}

// BuildFromFile loads a definition from a file and builds its graph.
func (f *Factory) BuildFromFile(path string) (*Graph, error) {
	def, err := LoadDefinitionFile(path)
	if err != nil {
		return nil, err
	}
	return f.Build(def)
}

// BuildFromJSON builds a graph from a JSON definition.
func (f *Factory) BuildFromJSON(jsonStr string) (*Graph, error) {
	def, err := ParseJSON(jsonStr)
	if err != nil {
		return nil, err
	}
	return f.Build(def)
}

// BuildFromYAML builds a graph from a YAML definition.
func (f *Factory) BuildFromYAML(yamlStr string) (*Graph, error) {
	def, err := ParseYAML(yamlStr)
	if err != nil {
		return nil, err
	}
	return f.Build(def)
}
