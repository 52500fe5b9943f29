/*
Package compose synthesizes the product docker-compose file from the partial
compose files shipped by the cloned repositories.
*/
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/phovea/productbuild/internal/product"
)

// FragmentPath is the partial compose file of a repository, relative to its checkout.
var FragmentPath = filepath.Join("deploy", "docker-compose.partial.yml")

// Version is the compose file format written.
const Version = "2.0"

// WebPorts are forced onto web and static services.
var WebPorts = []any{"80:80"}

// APIAlias is the alias under which web services reach api services.
const APIAlias = "api"

// MergeError reports a fragment that cannot be parsed or merged.
type MergeError struct {
	Source string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("invalid compose fragment %s: %v", e.Source, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// Fragment is a parsed partial compose file.
type Fragment struct {
	Source string
	Doc    map[string]any

	// Services lists the service names in declared order
	Services []string
}

// LoadFragment loads the partial compose file of the checkout in dir.
// A missing file yields an empty fragment.
func LoadFragment(dir string) (*Fragment, error) {
	path := filepath.Join(dir, FragmentPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Fragment{Source: path, Doc: map[string]any{}}, nil
	}
	if err != nil {
		return nil, &MergeError{Source: path, Err: err}
	}
	return ParseFragment(data, path)
}

// ParseFragment parses a partial compose document.
func ParseFragment(data []byte, source string) (*Fragment, error) {
	f := &Fragment{Source: source, Doc: map[string]any{}}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &MergeError{Source: source, Err: err}
	}
	if len(root.Content) == 0 {
		return f, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &MergeError{Source: source, Err: fmt.Errorf("top level is not a mapping")}
	}
	if err := doc.Decode(&f.Doc); err != nil {
		return nil, &MergeError{Source: source, Err: err}
	}
	if f.Doc == nil {
		f.Doc = map[string]any{}
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "services" {
			continue
		}
		services := doc.Content[i+1]
		if services.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(services.Content); j += 2 {
				f.Services = append(f.Services, services.Content[j].Value)
			}
		} else if services.ShortTag() != "!!null" {
			return nil, &MergeError{Source: source, Err: fmt.Errorf("services is not a mapping")}
		}
	}
	return f, nil
}

// FirstService returns the first declared service of the fragment.
func (f *Fragment) FirstService() (string, map[string]any, bool) {
	if f == nil || len(f.Services) == 0 {
		return "", nil, false
	}
	services, _ := f.Doc["services"].(map[string]any)
	name := f.Services[0]
	svc, _ := services[name].(map[string]any)
	if svc == nil {
		svc = map[string]any{}
	}
	return name, svc, true
}

// PartService returns the document holding the service of part, derived from
// the first service of its own fragment.
func PartService(part *product.Part, own *Fragment) map[string]any {
	service := map[string]any{}
	if _, svc, ok := own.FirstService(); ok {
		for k, v := range deepCopy(svc).(map[string]any) {
			if k != "build" {
				service[k] = v
			}
		}
	}
	service["image"] = part.Image
	if part.IsWebType {
		service["ports"] = deepCopy(WebPorts)
	}
	return map[string]any{
		"version":  Version,
		"services": map[string]any{part.Key: service},
	}
}

// Entry is the compose input of one part.
type Entry struct {
	Part        *product.Part
	Own         *Fragment
	Additionals []*Fragment
}

// Synthesize merges the part services and the additionals' fragments in order
// and adds the links between parts.
func Synthesize(entries []Entry) (map[string]any, error) {
	docs := make([]map[string]any, 0, len(entries))
	parts := make([]*product.Part, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, PartService(e.Part, e.Own))
		for _, f := range e.Additionals {
			if f != nil {
				docs = append(docs, f.Doc)
			}
		}
		parts = append(parts, e.Part)
	}

	doc, err := Merge(docs...)
	if err != nil {
		return nil, err
	}
	doc["version"] = Version
	if _, ok := doc["services"]; !ok {
		doc["services"] = map[string]any{}
	}
	if err := Link(doc, parts); err != nil {
		return nil, err
	}
	return doc, nil
}

// Link adds `<api>:api` to every web service for every api part and
// `<service>:<service>` to every api service for every service part.
func Link(doc map[string]any, parts []*product.Part) error {
	services, ok := doc["services"].(map[string]any)
	if !ok {
		return &MergeError{Source: "services", Err: fmt.Errorf("services is not a mapping")}
	}

	var web, api, svc []string
	for _, p := range parts {
		switch p.Type {
		case product.TypeWeb:
			web = append(web, p.Key)
		case product.TypeAPI:
			api = append(api, p.Key)
		case product.TypeService:
			svc = append(svc, p.Key)
		}
	}

	link := func(from, to, alias string) error {
		service, ok := services[from].(map[string]any)
		if !ok {
			return &MergeError{Source: "services." + from, Err: fmt.Errorf("service is not a mapping")}
		}
		links, _ := service["links"].([]any)
		service["links"] = union(links, []any{to + ":" + alias})
		return nil
	}
	for _, a := range api {
		for _, w := range web {
			if err := link(w, a, APIAlias); err != nil {
				return err
			}
		}
	}
	for _, s := range svc {
		for _, a := range api {
			if err := link(a, s, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Write writes doc as YAML with two-space indentation, version first.
func Write(path string, doc map[string]any) error {
	var root yaml.Node
	root.Kind = yaml.MappingNode

	keys := make([]string, 0, len(doc))
	for k := range doc {
		if k != "version" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := doc["version"]; ok {
		keys = append([]string{"version"}, keys...)
	}

	for _, k := range keys {
		var value yaml.Node
		if err := value.Encode(doc[k]); err != nil {
			return fmt.Errorf("failed to encode %s: %w", k, err)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Merge deep-merges docs into a new document. Sequences present on both sides
// are unioned in first-seen order, mappings merge key by key and any other
// value is replaced by later documents.
func Merge(docs ...map[string]any) (map[string]any, error) {
	out := map[string]any{}
	for _, d := range docs {
		merged, err := merge(out, d, "")
		if err != nil {
			return nil, err
		}
		out = merged.(map[string]any)
	}
	return out, nil
}

func merge(dst, src any, path string) (any, error) {
	switch s := src.(type) {
	case map[string]any:
		d, ok := dst.(map[string]any)
		if !ok {
			return deepCopy(s), nil
		}
		for k, v := range s {
			merged, err := merge(d[k], v, join(path, k))
			if err != nil {
				return nil, err
			}
			d[k] = merged
		}
		return d, nil
	case []any:
		if d, ok := dst.([]any); ok {
			return union(d, s), nil
		}
		return union(nil, s), nil
	case map[any]any:
		return nil, &MergeError{Source: path, Err: fmt.Errorf("mapping with non-string keys")}
	default:
		return s, nil
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// union appends the elements of b missing from a, dropping duplicates.
func union(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, list := range [][]any{a, b} {
		for _, v := range list {
			if !contains(out, v) {
				out = append(out, deepCopy(v))
			}
		}
	}
	return out
}

func contains(list []any, v any) bool {
	for _, x := range list {
		if reflect.DeepEqual(x, v) {
			return true
		}
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = deepCopy(x)
		}
		return out
	default:
		return v
	}
}
