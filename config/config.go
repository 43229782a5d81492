// Package config reads the user configuration of the nitrate client: the
// INI style ~/.nitrate file and the DEBUG, CACHE and COLOR environment
// variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
)

// Example is the minimal configuration printed when none is usable.
const Example = "[nitrate]\nurl = http://nitrate.server/xmlrpc/"

// ErrNoURL is returned by URL when [nitrate] url is missing.
var ErrNoURL = errors.New("no url found in the config file")

// Error reports a configuration file that cannot be used.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config is a parsed configuration file.
type Config struct {
	path     string
	order    []string
	sections map[string]map[string]string
}

// DefaultPath returns ~/.nitrate.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate config: %w", err)
	}
	return filepath.Join(home, ".nitrate"), nil
}

// Parse parses configuration text. name is used in error positions.
func Parse(name, input string) (*Config, error) {
	order, sections, err := parse(name, input)
	if err != nil {
		return nil, &Error{Path: name, Err: err}
	}
	return &Config{path: name, order: order, sections: sections}, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return Parse(path, string(data))
}

// Path returns the file the configuration came from.
func (c *Config) Path() string { return c.path }

// Sections returns the section names in file order.
func (c *Config) Sections() []string {
	return append([]string(nil), c.order...)
}

// Section returns a copy of the named section.
func (c *Config) Section(name string) (map[string]string, bool) {
	s, ok := c.sections[name]
	if !ok {
		return nil, false
	}
	return maps.Clone(s), true
}

// Get returns the raw value of key in section.
func (c *Config) Get(section, key string) (string, bool) {
	v, ok := c.sections[section][key]
	return v, ok
}

// Value returns the value coerced: integers become int, True and False
// become bool and anything else stays a string.
func (c *Config) Value(section, key string) (any, bool) {
	v, ok := c.Get(section, key)
	if !ok {
		return nil, false
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	switch v {
	case "True":
		return true, true
	case "False":
		return false, true
	}
	return v, true
}

// Int returns an integer value. ok is false when the key is absent.
func (c *Config) Int(section, key string) (n int, ok bool, err error) {
	v, ok := c.Get(section, key)
	if !ok {
		return 0, false, nil
	}
	n, err = strconv.Atoi(v)
	if err != nil {
		return 0, true, &Error{Path: c.path, Err: fmt.Errorf("[%s] %s: %w", section, key, err)}
	}
	return n, true, nil
}

// Bool returns a boolean value (True, False, 1, 0, yes, no, on, off).
func (c *Config) Bool(section, key string) (b bool, ok bool, err error) {
	v, ok := c.Get(section, key)
	if !ok {
		return false, false, nil
	}
	switch v {
	case "True", "true", "1", "yes", "on":
		return true, true, nil
	case "False", "false", "0", "no", "off":
		return false, true, nil
	}
	return false, true, &Error{Path: c.path, Err: fmt.Errorf("[%s] %s: not a boolean: %q", section, key, v)}
}

// URL returns the server url from [nitrate] url.
func (c *Config) URL() (string, error) {
	url, ok := c.Get("nitrate", "url")
	if !ok || url == "" {
		return "", &Error{Path: c.path, Err: ErrNoURL}
	}
	return url, nil
}
