package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/technosupport/ome-policy/internal/policy"
	"github.com/technosupport/ome-policy/internal/signer"
	"gopkg.in/yaml.v3"
)

var (
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileIncomplete = errors.New("profile incomplete")
)

// Env is the process environment the CLI reads before any flags.
type Env struct {
	ConfigPath  string `env:"POLICYGEN_CONFIG"`
	Profile     string `env:"POLICYGEN_PROFILE" env-default:"default"`
	SecretKey   string `env:"POLICYGEN_SECRET_KEY"`
	MetricsFile string `env:"POLICYGEN_METRICS_FILE"`
}

func LoadEnv() (Env, error) {
	var e Env
	if err := cleanenv.ReadEnv(&e); err != nil {
		return Env{}, fmt.Errorf("failed to read environment: %w", err)
	}
	return e, nil
}

// Settings are the per-profile knobs that may also be given as defaults.
// Pointers distinguish "unset" from false/zero when merging.
type Settings struct {
	PolicyQueryKey    string         `yaml:"policy_query_key"`
	SignatureQueryKey string         `yaml:"signature_query_key"`
	RequireURLExpire  *bool          `yaml:"require_url_expire"`
	ValidateAllowIP   *bool          `yaml:"validate_allow_ip"`
	URLTTL            *time.Duration `yaml:"url_ttl"`
	StreamTTL         *time.Duration `yaml:"stream_ttl"`
	AllowIP           string         `yaml:"allow_ip"`
}

type ProfileEntry struct {
	BaseURL      string `yaml:"base_url"`
	SecretKey    string `yaml:"secret_key"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	Settings     `yaml:",inline"`
}

// File is the parsed YAML document.
type File struct {
	Defaults Settings                `yaml:"defaults"`
	Profiles map[string]ProfileEntry `yaml:"profiles"`
}

// Profile is a fully resolved signing target.
type Profile struct {
	Name              string
	BaseURL           string
	SecretKey         string
	PolicyQueryKey    string
	SignatureQueryKey string
	Options           policy.Options
	URLTTL            time.Duration
	StreamTTL         time.Duration
	AllowIP           string
}

// SignerConfig returns the signer configuration for this profile.
func (p Profile) SignerConfig() signer.Config {
	return signer.Config{
		PolicyQueryKey:    p.PolicyQueryKey,
		SignatureQueryKey: p.SignatureQueryKey,
		Options:           p.Options,
	}
}

// Load reads and parses a profile file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if f.Profiles == nil {
		f.Profiles = make(map[string]ProfileEntry)
	}
	return &f, nil
}

// Profile resolves the named profile over the file defaults and checks it
// is usable. A secret_key_env that is set in the environment wins over
// secret_key.
func (f *File) Profile(name string) (Profile, error) {
	p, err := f.Resolve(name)
	if err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Resolve merges the named profile over the defaults without checking
// that it is complete. An unknown name is ErrProfileNotFound.
func (f *File) Resolve(name string) (Profile, error) {
	entry, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return f.resolve(name, entry), nil
}

// DefaultsOnly returns a profile carrying only the file defaults, for
// callers that supply base URL and secret themselves.
func (f *File) DefaultsOnly(name string) Profile {
	return f.resolve(name, ProfileEntry{})
}

func (f *File) resolve(name string, entry ProfileEntry) Profile {
	s := merge(f.Defaults, entry.Settings)
	p := Profile{
		Name:              name,
		BaseURL:           entry.BaseURL,
		SecretKey:         entry.SecretKey,
		PolicyQueryKey:    s.PolicyQueryKey,
		SignatureQueryKey: s.SignatureQueryKey,
		AllowIP:           s.AllowIP,
		Options: policy.Options{
			RequireURLExpire: deref(s.RequireURLExpire),
			ValidateAllowIP:  deref(s.ValidateAllowIP),
		},
		URLTTL:    deref(s.URLTTL),
		StreamTTL: deref(s.StreamTTL),
	}
	if entry.SecretKeyEnv != "" {
		if v := os.Getenv(entry.SecretKeyEnv); v != "" {
			p.SecretKey = v
		}
	}
	if p.PolicyQueryKey == "" {
		p.PolicyQueryKey = signer.DefaultPolicyQueryKey
	}
	if p.SignatureQueryKey == "" {
		p.SignatureQueryKey = signer.DefaultSignatureQueryKey
	}
	return p
}

// Validate reports a profile that cannot sign anything.
func (p Profile) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("%w: %s has no base_url", ErrProfileIncomplete, p.Name)
	}
	if p.SecretKey == "" {
		return fmt.Errorf("%w: %s has no secret key", ErrProfileIncomplete, p.Name)
	}
	return nil
}

// Names lists the configured profiles.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for n := range f.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func merge(base, over Settings) Settings {
	out := base
	if over.PolicyQueryKey != "" {
		out.PolicyQueryKey = over.PolicyQueryKey
	}
	if over.SignatureQueryKey != "" {
		out.SignatureQueryKey = over.SignatureQueryKey
	}
	if over.RequireURLExpire != nil {
		out.RequireURLExpire = over.RequireURLExpire
	}
	if over.ValidateAllowIP != nil {
		out.ValidateAllowIP = over.ValidateAllowIP
	}
	if over.URLTTL != nil {
		out.URLTTL = over.URLTTL
	}
	if over.StreamTTL != nil {
		out.StreamTTL = over.StreamTTL
	}
	if over.AllowIP != "" {
		out.AllowIP = over.AllowIP
	}
	return out
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
