package destination

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the decrypted, mode-specific connection configuration.
type Config interface {
	// Mode reports which adapter consumes the config.
	Mode() Mode
	// Root is the base path or key prefix artifacts are written under.
	// An empty root means the login directory or bucket root.
	Root() string
	// Location describes the target without credentials, for display.
	Location() string

	normalize()
	validate() error
}

// ObjectStorageConfig targets an S3-compatible bucket.
type ObjectStorageConfig struct {
	Endpoint        string `toml:"endpoint" json:"endpoint" validate:"required"`
	Bucket          string `toml:"bucket" json:"bucket" validate:"required"`
	AccessKeyID     string `toml:"access_key_id" json:"access_key_id" validate:"required"`
	SecretAccessKey string `toml:"secret_access_key" json:"secret_access_key" validate:"required"`
	Region          string `toml:"region" json:"region,omitempty"`
	Prefix          string `toml:"prefix" json:"prefix,omitempty"`
	Insecure        bool   `toml:"insecure" json:"insecure,omitempty"`
	PathStyle       bool   `toml:"path_style" json:"path_style,omitempty"`
}

// FTPConfig targets an FTP server, optionally upgraded with explicit TLS.
type FTPConfig struct {
	Host        string `toml:"host" json:"host" validate:"required"`
	Port        int    `toml:"port" json:"port" validate:"min=1,max=65535"`
	Username    string `toml:"username" json:"username" validate:"required"`
	Password    string `toml:"password" json:"password,omitempty"`
	BasePath    string `toml:"base_path" json:"base_path,omitempty"`
	ExplicitTLS bool   `toml:"explicit_tls" json:"explicit_tls,omitempty"`
}

// SFTPConfig targets an SSH server with the SFTP subsystem. HostKey pins the
// server key in authorized_keys format; when empty the key is not verified.
type SFTPConfig struct {
	Host       string `toml:"host" json:"host" validate:"required"`
	Port       int    `toml:"port" json:"port" validate:"min=1,max=65535"`
	Username   string `toml:"username" json:"username" validate:"required"`
	Password   string `toml:"password" json:"password,omitempty" validate:"required_without=PrivateKey"`
	PrivateKey string `toml:"private_key" json:"private_key,omitempty"`
	Passphrase string `toml:"passphrase" json:"passphrase,omitempty"`
	HostKey    string `toml:"host_key" json:"host_key,omitempty"`
	BasePath   string `toml:"base_path" json:"base_path,omitempty"`
}

// WebDAVConfig targets a WebDAV collection.
type WebDAVConfig struct {
	URL      string `toml:"url" json:"url" validate:"required,url"`
	Username string `toml:"username" json:"username,omitempty"`
	Password string `toml:"password" json:"password,omitempty"`
	BasePath string `toml:"base_path" json:"base_path,omitempty"`
}

// PeerConfig targets a content-addressed peer node through its RPC API.
// MFSRoot is the mutable-filesystem directory podcasts are linked under.
type PeerConfig struct {
	APIURL  string `toml:"api_url" json:"api_url" validate:"required,url"`
	APIKey  string `toml:"api_key" json:"api_key,omitempty"`
	MFSRoot string `toml:"root" json:"root,omitempty" validate:"startswith=/"`
}

// SMBConfig targets an SMB2/3 share.
type SMBConfig struct {
	Host     string `toml:"host" json:"host" validate:"required"`
	Port     int    `toml:"port" json:"port" validate:"min=1,max=65535"`
	Share    string `toml:"share" json:"share" validate:"required"`
	Username string `toml:"username" json:"username" validate:"required"`
	Password string `toml:"password" json:"password,omitempty"`
	Domain   string `toml:"domain" json:"domain,omitempty"`
	BasePath string `toml:"base_path" json:"base_path,omitempty"`
}

const defaultPeerRoot = "/castdeploy"

func (*ObjectStorageConfig) Mode() Mode { return ModeObjectStorage }
func (*FTPConfig) Mode() Mode           { return ModeFTP }
func (*SFTPConfig) Mode() Mode          { return ModeSFTP }
func (*WebDAVConfig) Mode() Mode        { return ModeWebDAV }
func (*PeerConfig) Mode() Mode          { return ModePeer }
func (*SMBConfig) Mode() Mode           { return ModeSMB }

func (c *ObjectStorageConfig) Root() string { return strings.Trim(c.Prefix, "/") }
func (c *FTPConfig) Root() string           { return cleanRoot(c.BasePath) }
func (c *SFTPConfig) Root() string          { return cleanRoot(c.BasePath) }
func (c *WebDAVConfig) Root() string        { return cleanRoot(c.BasePath) }
func (c *PeerConfig) Root() string          { return cleanRoot(c.MFSRoot) }
func (c *SMBConfig) Root() string           { return strings.TrimPrefix(cleanRoot(c.BasePath), "/") }

func (c *ObjectStorageConfig) Location() string {
	return fmt.Sprintf("s3://%s/%s (%s)", c.Bucket, c.Root(), c.Endpoint)
}

func (c *FTPConfig) Location() string {
	scheme := "ftp"
	if c.ExplicitTLS {
		scheme = "ftpes"
	}
	return fmt.Sprintf("%s://%s@%s/%s", scheme, c.Username, hostPort(c.Host, c.Port), strings.TrimPrefix(c.Root(), "/"))
}

func (c *SFTPConfig) Location() string {
	return fmt.Sprintf("sftp://%s@%s/%s", c.Username, hostPort(c.Host, c.Port), strings.TrimPrefix(c.Root(), "/"))
}

func (c *WebDAVConfig) Location() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}
	u.User = nil
	u.Path = path.Join("/", u.Path, c.Root())
	return u.String()
}

func (c *PeerConfig) Location() string {
	return fmt.Sprintf("%s (mfs %s)", redactURL(c.APIURL), c.Root())
}

func (c *SMBConfig) Location() string {
	return fmt.Sprintf(`\\%s\%s\%s`, hostPort(c.Host, c.Port), c.Share, strings.ReplaceAll(c.Root(), "/", `\`))
}

func (c *ObjectStorageConfig) normalize() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Bucket = strings.TrimSpace(c.Bucket)
	c.Region = strings.TrimSpace(c.Region)
	c.Prefix = strings.TrimSpace(c.Prefix)
	if u, err := url.Parse(c.Endpoint); err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https") {
		c.Endpoint = u.Host
		if u.Scheme == "http" {
			c.Insecure = true
		}
	}
}

func (c *FTPConfig) normalize() {
	c.Host = strings.TrimSpace(c.Host)
	c.Username = strings.TrimSpace(c.Username)
	c.BasePath = strings.TrimSpace(c.BasePath)
	if c.Port == 0 {
		c.Port = 21
	}
}

func (c *SFTPConfig) normalize() {
	c.Host = strings.TrimSpace(c.Host)
	c.Username = strings.TrimSpace(c.Username)
	c.BasePath = strings.TrimSpace(c.BasePath)
	c.HostKey = strings.TrimSpace(c.HostKey)
	if c.Port == 0 {
		c.Port = 22
	}
}

func (c *WebDAVConfig) normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.BasePath = strings.TrimSpace(c.BasePath)
}

func (c *PeerConfig) normalize() {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.MFSRoot = strings.TrimSpace(c.MFSRoot)
	if c.MFSRoot == "" {
		c.MFSRoot = defaultPeerRoot
	}
}

func (c *SMBConfig) normalize() {
	c.Host = strings.TrimSpace(c.Host)
	c.Share = strings.Trim(strings.TrimSpace(c.Share), `\/`)
	c.Username = strings.TrimSpace(c.Username)
	c.Domain = strings.TrimSpace(c.Domain)
	c.BasePath = strings.ReplaceAll(strings.TrimSpace(c.BasePath), `\`, "/")
	if c.Port == 0 {
		c.Port = 445
	}
}

func (c *ObjectStorageConfig) validate() error { return validateStruct(c) }
func (c *FTPConfig) validate() error           { return validateStruct(c) }
func (c *SMBConfig) validate() error           { return validateStruct(c) }

func (c *SFTPConfig) validate() error {
	return validateStruct(c)
}

func (c *WebDAVConfig) validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	return requireHTTPURL(c, "url", c.URL)
}

func (c *PeerConfig) validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	return requireHTTPURL(c, "api_url", c.APIURL)
}

// New returns an empty config for mode.
func New(mode Mode) (Config, error) {
	switch mode {
	case ModeObjectStorage:
		return &ObjectStorageConfig{}, nil
	case ModeFTP:
		return &FTPConfig{}, nil
	case ModeSFTP:
		return &SFTPConfig{}, nil
	case ModeWebDAV:
		return &WebDAVConfig{}, nil
	case ModePeer:
		return &PeerConfig{}, nil
	case ModeSMB:
		return &SMBConfig{}, nil
	default:
		return nil, &ConfigError{Field: "mode", Message: fmt.Sprintf("unsupported mode %q", mode)}
	}
}

// Validate normalizes cfg in place, applying port and root defaults, and
// checks required fields. Failures are *ConfigError.
func Validate(cfg Config) error {
	if cfg == nil {
		return &ConfigError{Message: "destination config is missing"}
	}
	cfg.normalize()
	return cfg.validate()
}

// ParseTOML decodes an authored TOML config for mode and validates it.
// Unknown keys are rejected so typos surface before anything is sealed.
func ParseTOML(mode Mode, data []byte) (Config, error) {
	cfg, err := New(mode)
	if err != nil {
		return nil, err
	}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, &ConfigError{Mode: mode, Message: "unknown keys: " + strings.TrimSpace(strict.String())}
		}
		return nil, &ConfigError{Mode: mode, Message: "parse: " + err.Error()}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type envelope struct {
	Mode   Mode            `json:"mode"`
	Config json.RawMessage `json:"config"`
}

// Encode serializes cfg with its mode tag for sealing.
func Encode(cfg Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("destination config is missing")
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s config: %w", cfg.Mode(), err)
	}
	return json.Marshal(envelope{Mode: cfg.Mode(), Config: body})
}

// Decode parses the output of Encode and validates the result.
func Decode(data []byte) (Config, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ConfigError{Message: "malformed config payload: " + err.Error()}
	}
	cfg, err := New(env.Mode)
	if err != nil {
		return nil, err
	}
	if len(env.Config) > 0 {
		if err := json.Unmarshal(env.Config, cfg); err != nil {
			return nil, &ConfigError{Mode: env.Mode, Message: "malformed config payload: " + err.Error()}
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func validateStruct(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ConfigError{Mode: cfg.Mode(), Message: err.Error()}
	}
	fe := fieldErrs[0]
	return &ConfigError{Mode: cfg.Mode(), Field: fe.Field(), Message: describeFieldError(fe)}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when private_key is not set"
	case "url":
		return "must be a valid URL"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func requireHTTPURL(cfg Config, field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigError{Mode: cfg.Mode(), Field: field, Message: "must be an absolute http(s) URL"}
	}
	return nil
}

func cleanRoot(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := path.Clean(value)
	if cleaned == "." {
		return ""
	}
	return cleaned
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.User = nil
	return u.String()
}
