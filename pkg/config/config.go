package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = ".kmon"
	configDirHidden string = "kmon"
	configFile      string = "config.yml"
)

// DefaultPrompt is the prompt printed by the monitor when none is
// configured.
const DefaultPrompt = "K> "

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Prompt printed before reading each command.
	Prompt string `yaml:"prompt,omitempty"`

	// DisassembleFlavor allows user to specify output syntax flavor of
	// assembly, one of "intel" (default), "gnu" or "go".
	DisassembleFlavor *string `yaml:"disassemble-flavor,omitempty"`

	// SymbolCacheSize is the number of symbol lookups remembered by the
	// monitor.
	SymbolCacheSize int `yaml:"symbol-cache-size,omitempty"`
}

// GetPrompt returns the configured prompt or DefaultPrompt.
func (c *Config) GetPrompt() string {
	if c == nil || c.Prompt == "" {
		return DefaultPrompt
	}
	return c.Prompt
}

// GetDisassembleFlavour returns the configured assembly flavour name.
func (c *Config) GetDisassembleFlavour() string {
	if c == nil || c.DisassembleFlavor == nil {
		return "intel"
	}
	return *c.DisassembleFlavor
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

	c, err := decodeConfig(f)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

func decodeConfig(r io.Reader) (*Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("Unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := createConfigPath(); err != nil {
		return err
	}
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
		`# Configuration file for the kmon kernel monitor.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Prompt printed before each command.
# prompt: "K> "

# Uncomment the following line to change the syntax used by the disassemble
# command, one of intel, gnu or go.
# disassemble-flavor: intel

# Number of resolved return addresses remembered between commands.
# symbol-cache-size: 256
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
	if configPath := os.Getenv("XDG_CONFIG_HOME"); configPath != "" {
		return path.Join(configPath, configDirHidden, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
