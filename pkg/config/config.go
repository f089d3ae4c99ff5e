package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir   string = ".frinspect"
	configFile  string = "config.yml"
	historyFile string = ".frinspect_history"
)

// FieldOffsets maps the field names of a runtime type to their byte offset
// from the start of the object.
type FieldOffsets map[string]uint64

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// TypeAliases maps the type tag reported by the target to the name of
	// a registered decoder, for example ObjHashTable to
	// Fr::HashTable<Fr::Object*, Fr::Object*>.
	TypeAliases map[string]string `yaml:"type-aliases"`

	// MaxVariableRecurse is the depth up to which print loads children
	// eagerly.
	MaxVariableRecurse *int `yaml:"max-variable-recurse,omitempty"`
	// MaxArrayValues is the maximum number of array, vector and hash table
	// entries loaded for one container.
	MaxArrayValues *int `yaml:"max-array-values,omitempty"`
	// MaxListItems is the maximum number of steps taken when walking a list.
	MaxListItems *int `yaml:"max-list-items,omitempty"`

	// TypeResolver selects how type tags are read from objects, either
	// "vtable" (the default) or "slab".
	TypeResolver string `yaml:"type-resolver,omitempty"`
	// VtableMaskBits is the number of low bits cleared from the vtable
	// word (or object address for the slab resolver) to find the table base.
	VtableMaskBits *int `yaml:"vtable-mask-bits,omitempty"`

	// Layouts overrides or extends the built-in field offset tables.
	Layouts map[string]FieldOffsets `yaml:"layouts"`

	// ColorMarkers enables coloured NULL and unreadable markers when the
	// output is a terminal.
	ColorMarkers *bool `yaml:"color-markers,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := readConfig(f)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration from an explicit path. Unlike
// LoadConfig a missing or invalid file is an error.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := readConfig(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode %s: %w", path, err)
	}
	return c, nil
}

func readConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for frinspect.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Map type tags reported by the target to registered decoder names.
type-aliases:
  # ObjHashTable: "Fr::HashTable<Fr::Object*, Fr::Object*>"

# Depth up to which print loads nested values.
# max-variable-recurse: 4

# Maximum number of elements loaded from an array, vector or hash table.
# max-array-values: 256

# Maximum number of list nodes visited before the walk is cut short.
# max-list-items: 64

# How type names are found: "vtable" reads them through the object's first
# word, "slab" through the 4KiB slab the object lives in.
# type-resolver: vtable
# vtable-mask-bits: 12

# Field offsets overriding the built-in layouts.
layouts:
  # "Fr::List": {next: 8, item: 16}

# Uncomment to disable colouring of NULL and unreadable markers.
# color-markers: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}

// GetHistoryFilePath returns the path of the terminal history file.
func GetHistoryFilePath() (string, error) {
	return GetConfigFilePath(historyFile)
}

// IntOr returns *p, or dflt when p is nil or not positive.
func IntOr(p *int, dflt int) int {
	if p == nil || *p <= 0 {
		return dflt
	}
	return *p
}

// ColorEnabled reports whether marker colouring is enabled.
func (c *Config) ColorEnabled() bool {
	return c.ColorMarkers == nil || *c.ColorMarkers
}
