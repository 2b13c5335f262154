package rqlite

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DEFAULT_PORT        = 4001
	DEFAULT_CONSISTENCY = "weak"
	DEFAULT_TIMEOUT     = 10 // seconds, passed to gorqlite as ?timeout=

	SCHEMA_TABLE = "sqlite_master"
)

// Config describes how to reach an rqlite node. Username and Password end up
// in the URL userinfo, the rest as gorqlite query parameters.
type Config struct {
	URL                     string // base URL, e.g. "http://localhost:4001"
	Consistency             string // none, weak, strong
	Username                string
	Password                string
	Timeout                 int  // seconds
	DisableClusterDiscovery bool // talk to URL only, never ask it for peers
}

func NewDefaultConfig() *Config {
	return &Config{
		URL:         fmt.Sprintf("http://localhost:%d", DEFAULT_PORT),
		Consistency: DEFAULT_CONSISTENCY,
		Timeout:     DEFAULT_TIMEOUT,
	}
}

// ToURL renders the config as a gorqlite connection URL.
func (c *Config) ToURL() (string, error) {
	u, err := parseNodeURL(c.URL)
	if err != nil {
		return "", err
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := u.Query()
	if c.Consistency != "" {
		q.Set("level", c.Consistency)
	}
	if c.Timeout > 0 {
		q.Set("timeout", strconv.Itoa(c.Timeout))
	}
	if c.DisableClusterDiscovery {
		q.Set("disableClusterDiscovery", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseURL reads a gorqlite connection URL back into a Config. It checks the
// shape of the URL only; nothing is dialed.
func ParseURL(cs string) (*Config, error) {
	u, err := parseNodeURL(cs)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	if u.User != nil {
		c.Username = u.User.Username()
		c.Password, _ = u.User.Password()
	}
	q := u.Query()
	c.Consistency = q.Get("level")
	if t := q.Get("timeout"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: timeout %q", ErrRQLiteInvalidURL, t)
		}
		c.Timeout = n
	}
	c.DisableClusterDiscovery, _ = strconv.ParseBool(q.Get("disableClusterDiscovery"))
	u.User = nil
	u.RawQuery = ""
	c.URL = u.String()
	return c, nil
}

// String returns the URL with the password redacted.
func (c *Config) String() string {
	s, err := c.ToURL()
	if err != nil {
		return c.URL
	}
	u, err := url.Parse(s)
	if err != nil {
		return c.URL
	}
	return u.Redacted()
}

func parseNodeURL(raw string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrRQLiteInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRQLiteInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrRQLiteInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrRQLiteInvalidURL)
	}
	return u, nil
}
