// Package configuration loads the configuration consumed by cmd/oidcrpctl
// and pkg/webrp: where to find the issuer, the client's own registration,
// and how the CLI/web server should run. Grounded on dc4eu-vc's
// pkg/configuration: an envconfig-resolved path to a YAML file, defaults
// applied with creasty/defaults before the file is unmarshaled over them,
// then struct validation.
package configuration

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/sawyerh/node-openid-client/pkg/logger"
)

type envVars struct {
	ConfigYAML string `envconfig:"OIDCRP_CONFIG_YAML" required:"true"`
}

// Client mirrors the subset of rp.ClientMetadata that's convenient to
// express in YAML; cmd/oidcrpctl and pkg/webrp translate it into an
// rp.ClientMetadata before constructing an rp.Client.
type Client struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret"`

	RedirectURI  string   `yaml:"redirect_uri"`
	ResponseType string   `yaml:"response_type" default:"code"`
	Scope        string   `yaml:"scope" default:"openid"`
	GrantTypes   []string `yaml:"grant_types"`

	TokenEndpointAuthMethod string `yaml:"token_endpoint_auth_method" default:"client_secret_basic"`
	IDTokenSignedResponseAlg string `yaml:"id_token_signed_response_alg" default:"RS256"`

	JWKSPath string `yaml:"jwks_path"`
}

// Issuer is the AS location: either a discoverable base URL or an explicit
// metadata document URL, see spec §1/§3.
type Issuer struct {
	DiscoveryURL string `yaml:"discovery_url" validate:"required,url"`
}

// Server configures pkg/webrp's gin-based callback handler.
type Server struct {
	Addr           string `yaml:"addr" default:":8080"`
	SessionSecret  string `yaml:"session_secret" validate:"required"`
	SuccessPath    string `yaml:"success_path" default:"/"`
	CookieSecure   bool   `yaml:"cookie_secure"`
}

// Cfg is the top-level configuration document.
type Cfg struct {
	Production bool   `yaml:"production"`
	LogPath    string `yaml:"log_path"`

	Issuer Issuer `yaml:"issuer" validate:"required"`
	Client Client `yaml:"client" validate:"required"`
	Server Server `yaml:"server"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New resolves the OIDCRP_CONFIG_YAML environment variable, applies
// defaults, unmarshals the YAML it points at, and validates the result.
func New(log *logger.Log) (*Cfg, error) {
	log.Info("reading configuration")

	env := envVars{}
	if err := envconfig.Process("", &env); err != nil {
		return nil, err
	}

	cfg := &Cfg{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}

	return Parse(cfg, env.ConfigYAML)
}

// Parse loads configPath into cfg (which should already carry defaults)
// and validates it. Split out from New so tests can drive it without the
// environment variable.
func Parse(cfg *Cfg, configPath string) (*Cfg, error) {
	fileInfo, err := os.Stat(configPath)
	if err != nil {
		return nil, err
	}
	if fileInfo.IsDir() {
		return nil, errors.New("config is a folder")
	}

	raw, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
