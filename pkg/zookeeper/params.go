package zookeeper

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const DefaultTimeout = 10 * time.Second

// Params describes the ensemble and the session to open on it.
type Params struct {
	Hosts []string
	// Chroot is prefixed to every path. Paths returned to the caller have it
	// removed.
	Chroot         string
	Timeout        time.Duration
	ReadOnly       bool
	RandomizeHosts bool
}

func DefaultParams() Params {
	return Params{
		Timeout:        DefaultTimeout,
		RandomizeHosts: true,
	}
}

// Validate checks the fields the connection relies on.
func (p Params) Validate() error {
	if p.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", p.Timeout)
	}
	if p.Chroot != "" {
		if err := validateNodePath(p.Chroot); err != nil {
			return fmt.Errorf("invalid chroot: %w", err)
		}
	}
	for _, host := range p.Hosts {
		if strings.TrimSpace(host) == "" {
			return fmt.Errorf("empty host in host list")
		}
	}
	return nil
}

// OrderedHosts returns the host list in the order a transport should try it.
func (p Params) OrderedHosts() []string {
	hosts := append([]string(nil), p.Hosts...)
	if p.RandomizeHosts {
		rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })
	}
	return hosts
}

type paramsFile struct {
	Hosts          []string `yaml:"hosts"`
	Chroot         string   `yaml:"chroot"`
	Timeout        string   `yaml:"timeout"`
	ReadOnly       *bool    `yaml:"read_only"`
	RandomizeHosts *bool    `yaml:"randomize_hosts"`
}

// LoadParams reads YAML connection parameters. Missing fields keep their
// defaults.
func LoadParams(r io.Reader) (Params, error) {
	params := DefaultParams()

	var file paramsFile
	err := yaml.NewDecoder(r).Decode(&file)
	if errors.Is(err, io.EOF) {
		return params, nil
	}
	if err != nil {
		return Params{}, fmt.Errorf("error decoding params: %w", err)
	}

	params.Hosts = file.Hosts
	params.Chroot = file.Chroot
	if file.Timeout != "" {
		timeout, err := time.ParseDuration(file.Timeout)
		if err != nil {
			return Params{}, fmt.Errorf("invalid timeout: %w", err)
		}
		params.Timeout = timeout
	}
	if file.ReadOnly != nil {
		params.ReadOnly = *file.ReadOnly
	}
	if file.RandomizeHosts != nil {
		params.RandomizeHosts = *file.RandomizeHosts
	}
	return params, params.Validate()
}
