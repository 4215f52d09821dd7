package covenant

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TEENet-io/covenant-go/common"
	"gopkg.in/yaml.v3"
)

// Artifact is a compiled contract: the script template plus the pre-check
// version it was compiled against. JSON artifacts load as well since JSON is
// a subset of YAML.
type Artifact struct {
	Family          string     `yaml:"family"`
	PrecheckVersion uint32     `yaml:"precheckVersion"`
	Hex             string     `yaml:"hex"`
	ABI             []ABIEntry `yaml:"abi"`
}

type ABIEntry struct {
	Type   string     `yaml:"type"`
	Name   string     `yaml:"name"`
	Index  int        `yaml:"index"`
	Params []ABIParam `yaml:"params"`
}

type ABIParam struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Compiler turns contract source into an artifact. It is external to the engine.
type Compiler interface {
	Compile(ctx context.Context, family string) (*Artifact, error)
}

func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseArtifact(data)
}

func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if a.Family == "" {
		return nil, fmt.Errorf("%w: artifact without family", ErrMalformedState)
	}
	if _, err := a.Template(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) Template() ([]byte, error) {
	b, err := common.HexStrToBytes(a.Hex)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("%w: bad template hex for %s", ErrMalformedState, a.Family)
	}
	return b, nil
}

// Method finds a public function by name.
func (a *Artifact) Method(name string) (ABIEntry, bool) {
	for _, e := range a.ABI {
		if e.Type == "function" && e.Name == name {
			return e, true
		}
	}
	return ABIEntry{}, false
}

// CheckFamily rejects an artifact compiled for another pre-check version.
func (a *Artifact) CheckFamily(f Family) error {
	if a.Family != f.Name() {
		return fmt.Errorf("%w: artifact is %s, family is %s", ErrUnknownFamily, a.Family, f.Name())
	}
	if a.PrecheckVersion != f.PrecheckVersion() {
		return fmt.Errorf("%w: artifact %d, pre-check %d", ErrPrecheckVersion, a.PrecheckVersion, f.PrecheckVersion())
	}
	return nil
}

// ArtifactDir loads pre-compiled artifacts named <family>.json or <family>.yaml.
type ArtifactDir struct {
	Dir string
}

func (d ArtifactDir) Compile(_ context.Context, family string) (*Artifact, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		p := filepath.Join(d.Dir, family+ext)
		if _, err := os.Stat(p); err == nil {
			return LoadArtifact(p)
		}
	}
	return nil, fmt.Errorf("%w: no artifact for %s in %s", ErrUnknownFamily, family, d.Dir)
}
