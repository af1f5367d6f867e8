package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-go-golems/chatctl/pkg/conversation"
	"github.com/go-go-golems/chatctl/pkg/events"
	"github.com/go-go-golems/chatctl/pkg/security"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultStore         = "sqlite:chatctl.db"
	DefaultEnvFile       = ".env"
	DefaultSecretKeyFile = ".webui_secret_key"
	DefaultMaxRetries    = 3
)

// Settings is everything the chat service and its collaborators need.
type Settings struct {
	Store  string
	Notify events.NotifierConfig

	SecretKey       string
	SecretKeySource string

	Roles      []string
	Model      string
	MaxRetries int
}

// RolePolicy converts the configured role names into a policy for the mutator. Plain
// names replace the default user/assistant policy; names prefixed with "+" extend it,
// so "+system" accepts user, assistant and system.
func (s *Settings) RolePolicy() conversation.RolePolicy {
	var replace, extend []conversation.Role
	for _, r := range s.Roles {
		if name, ok := strings.CutPrefix(r, "+"); ok {
			if name = strings.TrimSpace(name); name != "" {
				extend = append(extend, conversation.Role(name))
			}
			continue
		}
		replace = append(replace, conversation.Role(r))
	}
	base := conversation.DefaultRolePolicy()
	if len(replace) > 0 {
		base = conversation.NewRolePolicy(replace...)
	}
	return base.With(extend...)
}

// SetDefaults registers the default values LoadSettings relies on.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store", DefaultStore)
	v.SetDefault("notify-transport", events.TransportNone)
	v.SetDefault("notify-topic", events.DefaultTopic)
	v.SetDefault("notify-timeout", 5*time.Second)
	v.SetDefault("notify-token-ttl", time.Minute)
	v.SetDefault("notify-allow-local", true)
	v.SetDefault("env-file", DefaultEnvFile)
	v.SetDefault("secret-key-file", DefaultSecretKeyFile)
	v.SetDefault("roles", []string{string(conversation.RoleUser), string(conversation.RoleAssistant)})
	v.SetDefault("model", conversation.DefaultModel)
	v.SetDefault("max-retries", DefaultMaxRetries)
}

// SecretKeyProviders is the lookup chain for the signing secret: explicit configuration,
// then WEBUI_SECRET_KEY and CHATCTL_SECRET_KEY in the environment, then the .env file,
// then the web UI's generated key file.
func SecretKeyProviders(v *viper.Viper, environ []string) []Provider {
	env := NewEnvProvider(environ)
	dotenv := NewDotenvProvider(v.GetString("env-file"))
	return []Provider{
		ViperProvider{V: v},
		KeyedProvider{Provider: env, Key: "WEBUI_SECRET_KEY"},
		KeyedProvider{Provider: env, Key: "CHATCTL_SECRET_KEY"},
		KeyedProvider{Provider: dotenv, Key: "WEBUI_SECRET_KEY"},
		KeyedProvider{Provider: dotenv, Key: "CHATCTL_SECRET_KEY"},
		NewFileProvider(map[string]string{"secret-key": v.GetString("secret-key-file")}),
	}
}

// LoadSettings reads Settings from v. The secret key is optional unless the http
// notifier is selected.
func LoadSettings(v *viper.Viper, environ []string) (*Settings, error) {
	if v == nil {
		return nil, fmt.Errorf("viper instance is nil")
	}
	s := &Settings{
		Store: strings.TrimSpace(v.GetString("store")),
		Notify: events.NotifierConfig{
			Transport:  strings.ToLower(strings.TrimSpace(v.GetString("notify-transport"))),
			URL:        strings.TrimSpace(v.GetString("notify-url")),
			Topic:      v.GetString("notify-topic"),
			Timeout:    v.GetDuration("notify-timeout"),
			TokenTTL:   v.GetDuration("notify-token-ttl"),
			AllowLocal: v.GetBool("notify-allow-local"),
		},
		Roles:      normalizeRoles(v.GetStringSlice("roles")),
		Model:      v.GetString("model"),
		MaxRetries: v.GetInt("max-retries"),
	}

	res, err := Resolve("secret-key", SecretKeyProviders(v, environ)...)
	switch {
	case err == nil:
		s.SecretKey = res.Value
		s.SecretKeySource = res.Source
	case errors.Is(err, ErrNotResolved):
	default:
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.Store == "" {
		return &conversation.ValidationError{Field: "store", Reason: "must not be empty"}
	}
	if s.MaxRetries < 0 {
		return &conversation.ValidationError{Field: "max-retries", Reason: "must not be negative"}
	}
	switch s.Notify.Transport {
	case "", events.TransportNone, events.TransportBus:
	case events.TransportHTTP:
		if s.Notify.URL == "" {
			return &conversation.ValidationError{Field: "notify-url", Reason: "required for the http transport"}
		}
		err := security.ValidateOutboundURL(s.Notify.URL, security.OutboundURLOptions{
			AllowHTTP:          s.Notify.AllowLocal,
			AllowLocalNetworks: s.Notify.AllowLocal,
		})
		if err != nil {
			return &conversation.ValidationError{Field: "notify-url", Reason: err.Error()}
		}
		if s.SecretKey == "" {
			return &conversation.ValidationError{Field: "secret-key", Reason: "required for the http transport"}
		}
	default:
		return &conversation.ValidationError{Field: "notify-transport", Reason: fmt.Sprintf("unknown transport %q", s.Notify.Transport)}
	}
	return nil
}

// normalizeRoles accepts both repeated values and a single comma separated string.
func normalizeRoles(in []string) []string {
	var out []string
	for _, r := range in {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
