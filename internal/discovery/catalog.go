package discovery

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog maps industries to registry activity codes and search keywords.
type Catalog struct {
	Industries map[string]IndustryEntry `yaml:"industries"`
	Groups     map[string][]string      `yaml:"groups"`
}

// IndustryEntry is one industry's query terms.
type IndustryEntry struct {
	ActivityCodes []string `yaml:"activity_codes"`
	Keywords      []string `yaml:"keywords"`
}

// Terms is a resolved request: the industries it covers and their merged
// query terms.
type Terms struct {
	Industries    []string
	ActivityCodes []string
	Keywords      []string
	// ByActivity maps each activity code back to its industry.
	ByActivity map[string]string
	// ByKeyword maps each keyword back to its industry.
	ByKeyword map[string]string
}

// LoadCatalog reads a catalog from path, or the built-in catalog when path
// is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: read catalog %s", path)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML and checks that every group member is a
// known industry.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "discovery: parse catalog")
	}
	if len(c.Industries) == 0 {
		return nil, eris.New("discovery: catalog has no industries")
	}
	for group, members := range c.Groups {
		for _, m := range members {
			if _, ok := c.Industries[m]; !ok {
				return nil, eris.Errorf("discovery: group %s references unknown industry %s", group, m)
			}
		}
	}
	return &c, nil
}

// Resolve expands an industry or industry group into query terms. A group
// takes precedence over a single industry.
func (c *Catalog) Resolve(industry, group string) (Terms, error) {
	var names []string
	switch {
	case group != "":
		members, ok := c.Groups[group]
		if !ok {
			return Terms{}, eris.Errorf("discovery: unknown industry group %q", group)
		}
		names = append(names, members...)
	case industry != "":
		if _, ok := c.Industries[industry]; !ok {
			return Terms{}, eris.Errorf("discovery: unknown industry %q", industry)
		}
		names = []string{industry}
	default:
		return Terms{}, eris.New("discovery: no industry given")
	}

	t := Terms{
		Industries: names,
		ByActivity: make(map[string]string),
		ByKeyword:  make(map[string]string),
	}
	for _, name := range names {
		entry := c.Industries[name]
		for _, code := range entry.ActivityCodes {
			if _, dup := t.ByActivity[code]; !dup {
				t.ByActivity[code] = name
				t.ActivityCodes = append(t.ActivityCodes, code)
			}
		}
		for _, kw := range entry.Keywords {
			if _, dup := t.ByKeyword[kw]; !dup {
				t.ByKeyword[kw] = name
				t.Keywords = append(t.Keywords, kw)
			}
		}
	}
	return t, nil
}

// IndustryNames lists catalog industries in sorted order.
func (c *Catalog) IndustryNames() []string {
	names := make([]string, 0, len(c.Industries))
	for n := range c.Industries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
