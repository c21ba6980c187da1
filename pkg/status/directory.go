package status

import (
	_ "embed"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Directory resolves backend member ids to human labels and agents to their
// owning sub-team. The backend labels delegation targets inconsistently
// (sometimes an agent id, sometimes the sub-team that owns it), so the
// mapping lives behind this interface instead of being scattered through the
// builder; swap the YAML once the backend is fixed.
type Directory interface {
	// Label returns the display name for a member id.
	Label(id string) (string, bool)
	// TeamFor returns the id of the sub-team owning an agent id.
	TeamFor(agentID string) (string, bool)
}

//go:embed members.yaml
var defaultMembersYAML []byte

type yamlDirectory struct {
	Members map[string]string `yaml:"members"`
	Teams   map[string]string `yaml:"teams"`
}

var _ Directory = (*yamlDirectory)(nil)

func (d *yamlDirectory) Label(id string) (string, bool) {
	label, ok := d.Members[id]
	return label, ok
}

func (d *yamlDirectory) TeamFor(agentID string) (string, bool) {
	team, ok := d.Teams[agentID]
	return team, ok
}

// DefaultDirectory returns the directory built from the embedded roster.
func DefaultDirectory() Directory {
	d := &yamlDirectory{}
	// the embedded document is validated by TestDefaultDirectoryRoster
	_ = yaml.Unmarshal(defaultMembersYAML, d)
	return d
}

// DirectoryFromFile loads a roster override from a YAML file.
func DirectoryFromFile(path string) (Directory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read member roster")
	}
	d := &yamlDirectory{}
	if err := yaml.Unmarshal(b, d); err != nil {
		return nil, errors.Wrapf(err, "could not parse member roster %s", path)
	}
	return d, nil
}

// LabelOrID resolves a member id to its label, falling back to the raw id.
func LabelOrID(dir Directory, id string) string {
	if dir != nil {
		if label, ok := dir.Label(id); ok {
			return label
		}
	}
	return id
}
