// Package config loads provisioning profiles.
//
// A profile named foo is read from foo.yml in the profile directory, with
// foo.override.yml (if present) layered on top. Mappings are merged key by
// key; the order of storage.partitions is the order in which partitions
// first appear and determines their position in the partition table.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StorageKind selects the provisioning target.
type StorageKind string

const (
	RawFile StorageKind = "rawfile"
	Device  StorageKind = "device"
)

type ImageFile struct {
	Name   string `yaml:"name"`
	SizeMB int64  `yaml:"size_mb"`
}

// Partition describes one configured partition. Its position in
// Profile.Partitions is its position in the partition table.
type Partition struct {
	Name string `yaml:"-"`

	// FSType is the file system type as known to mkfs and mount (e.g. vfat).
	FSType string `yaml:"fs_type,omitempty"`
	// Type is the file system type token as known to parted (e.g. fat32).
	Type string `yaml:"type,omitempty"`

	Start        string `yaml:"start,omitempty"`
	End          string `yaml:"end,omitempty"`
	InternalPath string `yaml:"internal_path,omitempty"`
	Mountpoint   string `yaml:"mountpoint,omitempty"`
	Options      string `yaml:"options,omitempty"`

	// ResolvedPath is the host block device of this partition. It is only
	// set once the backing device is known and never read from a profile.
	ResolvedPath string `yaml:"-"`
}

type Storage struct {
	Type           StorageKind           `yaml:"type"`
	Device         string                `yaml:"device,omitempty"`
	InternalDevice string                `yaml:"internal_device,omitempty"`
	ImageFile      ImageFile             `yaml:"image_file,omitempty"`
	Partitions     map[string]*Partition `yaml:"partitions"`
}

type AlarmImage struct {
	URL      string `yaml:"url"`
	Filename string `yaml:"filename"`
	// MD5 optionally pins the expected checksum of the downloaded archive.
	MD5 string `yaml:"md5,omitempty"`
}

type Options struct {
	NoInteraction bool `yaml:"no_interaction,omitempty"`
}

// Profile is one loaded provisioning profile.
type Profile struct {
	Name  string   `yaml:"-"`
	Files []string `yaml:"-"`

	Storage    Storage    `yaml:"storage"`
	AlarmImage AlarmImage `yaml:"alarm_image,omitempty"`
	Options    Options    `yaml:"options,omitempty"`

	// Partitions in partition table order.
	Partitions []*Partition `yaml:"-"`

	root *yaml.Node
}

var ErrUnknownProfile = errors.New("invalid or unsupported profile")

// MissingKeysError lists every required key absent from a profile.
type MissingKeysError struct {
	Profile string
	Keys    []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("profile %s: missing required configuration: %s", e.Profile, strings.Join(e.Keys, ", "))
}

// InvalidValueError reports a key whose value is not acceptable.
type InvalidValueError struct {
	Key   string
	Value string
	Why   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Key, e.Value, e.Why)
}

// Files returns the profile files for name which exist in dir, base file
// first.
func Files(dir, name string) []string {
	var files []string
	for _, fn := range []string{name + ".yml", name + ".override.yml"} {
		path := filepath.Join(dir, fn)
		if st, err := os.Stat(path); err == nil && st.Mode().IsRegular() {
			files = append(files, path)
		}
	}
	return files
}

// Load reads and validates the profile name from dir.
func Load(dir, name string) (*Profile, error) {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	files := Files(dir, name)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s (no %s.yml in %s)", ErrUnknownProfile, name, name, dir)
	}
	var merged *yaml.Node
	for _, fn := range files {
		log.Printf("reading profile from %s", fn)
		b, err := os.ReadFile(fn)
		if err != nil {
			return nil, err
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
		if len(doc.Content) == 0 {
			continue // empty file
		}
		if merged == nil {
			merged = doc.Content[0]
			continue
		}
		if err := mergeNode(merged, doc.Content[0]); err != nil {
			return nil, fmt.Errorf("%s: %w", fn, err)
		}
	}
	if merged == nil {
		merged = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	p, err := fromNode(merged)
	if err != nil {
		return nil, err
	}
	p.Name = name
	p.Files = files
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse decodes a single profile document. It is used for profiles which do
// not live in a profile directory (tests, stdin).
func Parse(name string, b []byte) (*Profile, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if len(doc.Content) > 0 {
		root = doc.Content[0]
	}
	p, err := fromNode(root)
	if err != nil {
		return nil, err
	}
	p.Name = name
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func fromNode(root *yaml.Node) (*Profile, error) {
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("profile must be a mapping, got %s", kindName(root.Kind))
	}
	var p Profile
	if err := root.Decode(&p); err != nil {
		return nil, err
	}
	p.root = root
	for _, name := range partitionOrder(root) {
		part := p.Storage.Partitions[name]
		if part == nil {
			part = &Partition{}
			if p.Storage.Partitions == nil {
				p.Storage.Partitions = make(map[string]*Partition)
			}
			p.Storage.Partitions[name] = part
		}
		part.Name = name
		p.Partitions = append(p.Partitions, part)
	}
	return &p, nil
}

func partitionOrder(root *yaml.Node) []string {
	n := lookup(root, []string{"storage", "partitions"})
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	names := make([]string, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		names = append(names, n.Content[i].Value)
	}
	return names
}

// mergeNode layers src on top of dst. Mappings are merged recursively, keys
// new to dst are appended, everything else in src replaces dst.
func mergeNode(dst, src *yaml.Node) error {
	if dst.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		*dst = *src
		return nil
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i], src.Content[i+1]
		existing := mappingValue(dst, key.Value)
		if existing == nil {
			dst.Content = append(dst.Content, key, val)
			continue
		}
		if err := mergeNode(existing, val); err != nil {
			return err
		}
	}
	return nil
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func lookup(n *yaml.Node, path []string) *yaml.Node {
	for _, key := range path {
		n = mappingValue(n, key)
		if n == nil {
			return nil
		}
	}
	return n
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "empty"
}

// Has reports whether the dotted key (e.g. storage.image_file.name) is set
// to a non-empty value.
func (p *Profile) Has(key string) bool {
	n := lookup(p.root, strings.Split(key, "."))
	if n == nil {
		return false
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Tag != "!!null" && n.Value != ""
	case yaml.MappingNode, yaml.SequenceNode:
		return len(n.Content) > 0
	}
	return true
}

// Get returns the value of the dotted key, rendered as a string for scalars
// and as YAML for mappings and sequences.
func (p *Profile) Get(key string) (string, bool) {
	n := lookup(p.root, strings.Split(key, "."))
	if n == nil {
		return "", false
	}
	if n.Kind == yaml.ScalarNode {
		return n.Value, true
	}
	b, err := yaml.Marshal(n)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// Dump renders the effective (merged) profile as YAML.
func (p *Profile) Dump() ([]byte, error) {
	return yaml.Marshal(p.root)
}
