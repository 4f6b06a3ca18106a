package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quantflow/internal/export"
	"github.com/roach88/quantflow/internal/ir"
)

// Layout file names.
const (
	MetadataFile  = "saved_model.yaml"
	GraphFile     = "graph.json"
	VariablesDir  = "variables"
	AssetsDir     = "assets"
	DefaultTag    = "serve"
	metadataPerms = 0o644
)

// Metadata is the content of saved_model.yaml.
type Metadata struct {
	Version    string      `yaml:"version"`
	Tool       string      `yaml:"tool,omitempty"`
	MetaGraphs []MetaGraph `yaml:"meta_graphs"`
}

// MetaGraph is one tagged view of the bundle's graph.
type MetaGraph struct {
	Tags            []string                `yaml:"tags"`
	SignatureDefs   map[string]SignatureDef `yaml:"signature_defs"`
	FunctionAliases map[string]string       `yaml:"function_aliases,omitempty"`
	AssetFileDefs   []export.AssetFileDef   `yaml:"asset_file_defs,omitempty"`
	SaverDef        *export.SaverDef        `yaml:"saver_def,omitempty"`
	InitNodeName    string                  `yaml:"init_node_name,omitempty"`
}

// SignatureDef binds a signature key to its entry function.
type SignatureDef struct {
	Function string   `yaml:"function"`
	Inputs   []string `yaml:"inputs,omitempty"`
	Outputs  []string `yaml:"outputs,omitempty"`
}

// ErrNoMetaGraph means no meta graph carries the requested tag set.
var ErrNoMetaGraph = errors.New("no meta graph with matching tags")

// ReadMetadata parses <path>/saved_model.yaml.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(path, MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var md Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	return &md, nil
}

// WriteMetadata writes md to <path>/saved_model.yaml.
func WriteMetadata(path string, md *Metadata) error {
	data, err := yaml.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, MetadataFile), data, metadataPerms); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// MetaGraph returns the meta graph whose tag set equals tags.
func (md *Metadata) MetaGraph(tags []string) (*MetaGraph, error) {
	want := normalizeTags(tags)
	for i := range md.MetaGraphs {
		if slices.Equal(normalizeTags(md.MetaGraphs[i].Tags), want) {
			return &md.MetaGraphs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoMetaGraph, tags)
}

// SignatureKeys returns the signature keys in sorted order.
func (mg *MetaGraph) SignatureKeys() []string {
	keys := make([]string, 0, len(mg.SignatureDefs))
	for k := range mg.SignatureDefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{DefaultTag}
	}
	out := slices.Clone(tags)
	slices.Sort(out)
	return slices.Compact(out)
}

// ReadSignatureDefs returns the signature defs of the meta graph matching
// tags.
func ReadSignatureDefs(path string, tags []string) (map[string]SignatureDef, error) {
	md, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}
	mg, err := md.MetaGraph(tags)
	if err != nil {
		return nil, err
	}
	return mg.SignatureDefs, nil
}

// GetFunctionAliases returns the function alias map of the meta graph
// matching tags. Empty aliases and two functions sharing an alias are
// malformed metadata.
func GetFunctionAliases(path string, tags []string) (map[string]string, error) {
	md, err := ReadMetadata(path)
	if err != nil {
		return nil, err
	}
	mg, err := md.MetaGraph(tags)
	if err != nil {
		return nil, err
	}

	aliases := make(map[string]string, len(mg.FunctionAliases))
	owner := make(map[string]string, len(mg.FunctionAliases))
	for _, fn := range sortedKeys(mg.FunctionAliases) {
		alias := mg.FunctionAliases[fn]
		if fn == "" || alias == "" {
			return nil, fmt.Errorf("function alias %q -> %q: empty name", fn, alias)
		}
		if prev, ok := owner[alias]; ok {
			return nil, fmt.Errorf("alias %q names both %s and %s", alias, prev, fn)
		}
		owner[alias] = fn
		aliases[fn] = alias
	}
	return aliases, nil
}

// UpdateFunctionAliases re-keys aliases after import renamed functions.
// A function whose tf._original_func_name is aliased inherits the alias;
// aliases of functions no longer in the module are dropped.
func UpdateFunctionAliases(aliases map[string]string, m *ir.Module) {
	existing := make(map[string]bool, len(m.Functions))
	for _, f := range m.Functions {
		existing[f.Name] = true
		original, ok := f.Attrs.GetString(ir.AttrOriginalFuncName)
		if !ok {
			continue
		}
		if alias, ok := aliases[original]; ok {
			aliases[f.Name] = alias
		}
	}
	for name := range aliases {
		if !existing[name] {
			delete(aliases, name)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
