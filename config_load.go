package cachefn

import (
	"net/url"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const secretMask = "****"

type registryDocument struct {
	Databases Registry `mapstructure:"databases" yaml:"databases"`
}

// LoadRegistry reads the registry under the top-level "databases" key of the
// file at path. Environment variables override file values, e.g.
// APP_DATABASES_DEFAULT_PASSWORD for envPrefix "APP". Aliases are lowercased.
func LoadRegistry(path, envPrefix string) (Registry, error) {
	v := viper.New()
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "cachefn: read config %s", path)
		}
	}

	var doc registryDocument
	if err := v.Unmarshal(&doc); err != nil {
		return nil, errors.Wrap(err, "cachefn: decode config")
	}
	if doc.Databases == nil {
		doc.Databases = Registry{}
	}
	return doc.Databases, nil
}

// ParseRegistry decodes YAML with either a top-level "databases" key or the
// alias map itself.
func ParseRegistry(data []byte) (Registry, error) {
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "cachefn: parse registry")
	}
	if doc.Databases != nil {
		return doc.Databases, nil
	}
	registry := Registry{}
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, errors.Wrap(err, "cachefn: parse registry")
	}
	return registry, nil
}

// ReadRegistryFile reads a YAML registry from path.
func ReadRegistryFile(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cachefn: read registry %s", path)
	}
	return ParseRegistry(data)
}

// YAML renders the registry under a "databases" key with secrets masked.
func (r Registry) YAML() ([]byte, error) {
	masked := make(Registry, len(r))
	for alias, cfg := range r {
		masked[alias] = cfg.masked()
	}
	out, err := yaml.Marshal(registryDocument{Databases: masked})
	if err != nil {
		return nil, errors.Wrap(err, "cachefn: encode registry")
	}
	return out, nil
}

func (c ConnectionConfig) masked() ConnectionConfig {
	if c.Password != "" {
		c.Password = secretMask
	}
	if c.EncryptionKey != "" {
		c.EncryptionKey = secretMask
	}
	if c.URL != "" {
		if u, err := url.Parse(c.URL); err == nil && u.User != nil {
			if _, ok := u.User.Password(); ok {
				c.URL = u.Redacted()
			}
		}
	}
	if c.DSN != "" {
		c.DSN = maskDSN(c.DSN)
	}
	return c
}

// maskDSN hides the password in URL-style and user:pass@ style DSNs.
func maskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			return u.Redacted()
		}
		return dsn
	}
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	userInfo := dsn[:at]
	colon := strings.Index(userInfo, ":")
	if colon < 0 {
		return dsn
	}
	return userInfo[:colon+1] + secretMask + dsn[at:]
}
