package partition

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultLanguage is used when no instructions exist for the requested one.
const DefaultLanguage = "en"

//go:embed instructions.en.yaml
var bundledInstructions []byte

// Practice is the display metadata for one check.
type Practice struct {
	Title       string            `yaml:"title" json:"title"`
	Description string            `yaml:"description" json:"description"`
	Link        string            `yaml:"link" json:"link"`
	Directions  map[string]string `yaml:"directions" json:"directions"`
}

// Instructions is a practices document.
type Instructions struct {
	Organization string              `yaml:"organization" json:"organization"`
	Strings      map[string]string   `yaml:"strings" json:"strings"`
	Practices    map[string]Practice `yaml:"practices" json:"practices"`
}

// ParseInstructions decodes a practices document.
func ParseInstructions(data []byte) (*Instructions, error) {
	var in Instructions
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}
	if len(in.Practices) == 0 {
		return nil, errors.New("instructions define no practices")
	}
	return &in, nil
}

// Bundled returns the English instructions compiled into the binary.
func Bundled() (*Instructions, error) {
	return ParseInstructions(bundledInstructions)
}

// LoadInstructions reads instructions.<lang>.yaml from dir, falling back to
// the English file and then to the bundled copy.
func LoadInstructions(dir, lang string) (*Instructions, error) {
	if dir == "" {
		return Bundled()
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	names := []string{"instructions." + lang + ".yaml"}
	if lang != DefaultLanguage {
		names = append(names, "instructions."+DefaultLanguage+".yaml")
	}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return ParseInstructions(data)
	}
	return Bundled()
}
