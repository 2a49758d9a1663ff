package config

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func setFlag(cfg *Config, name string, values ...string) error {
	for _, v := range values {
		if err := cfg.Flags.Set(name, v); err != nil {
			return err
		}
	}

	return nil
}

func TestReplaceFlag(t *testing.T) {
	for _, tt := range []struct {
		name    string
		values  []string
		want    string
		wantErr string
	}{{
		name:   "single rule",
		values: []string{"s/foo/bar/"},
		want:   "s/foo/bar/",
	}, {
		name:   "repeated rules keep the order",
		values: []string{"s/foo/bar/", `s|/api/|/v2/api/|`},
		want:   "s/foo/bar/ s|/api/|/v2/api/|",
	}, {
		name:    "missing delimiter",
		values:  []string{"s/foo/bar"},
		wantErr: `invalid replace rule: "s/foo/bar"`,
	}, {
		name:    "invalid pattern",
		values:  []string{"s/(/x/"},
		wantErr: "invalid replace rule: error parsing regexp",
	}} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := setFlag(cfg, "replace", tt.values...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Replace.String())
			assert.Len(t, cfg.Replace.rules, len(tt.values))
		})
	}

	t.Run("rules are applied in order", func(t *testing.T) {
		cfg := NewConfig()
		require.NoError(t, setFlag(cfg, "replace", "s/foo/bar/", "s/bar/baz/"))

		s := "foo"
		for _, r := range cfg.Replace.rules {
			s = r.Pattern.ReplaceAllString(s, r.Replacement)
		}

		assert.Equal(t, "baz", s)
	})
}

func TestReplaceFlagConfig(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, setFlag(cfg, "replace", "s/a/b/"))

	require.NoError(t, yaml.Unmarshal([]byte("replace:\n- s/foo/bar/\n- s#http://#https://#\n"), cfg))
	assert.Equal(t, []string{"s/foo/bar/", "s#http://#https://#"}, cfg.Replace.exprs)
	require.Len(t, cfg.Replace.rules, 2)
	assert.Equal(t, "https://", cfg.Replace.rules[1].Replacement)

	err := yaml.Unmarshal([]byte("replace:\n- s/foo/bar/\n- s/foo\n"), NewConfig())
	assert.ErrorContains(t, err, "invalid replace rule")
}

func TestExcludePathFlag(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, setFlag(cfg, "exclude-path", "^/raw/", "[.]png$"))
	assert.Equal(t, "^/raw/ [.]png$", cfg.ExcludePaths.String())

	var matched []string
	for _, p := range []string{"/raw/file", "/img/logo.png", "/index.html"} {
		for _, rx := range cfg.ExcludePaths {
			if rx.MatchString(p) {
				matched = append(matched, p)
			}
		}
	}

	assert.Equal(t, []string{"/raw/file", "/img/logo.png"}, matched)
	assert.ErrorContains(t, setFlag(cfg, "exclude-path", "["), `invalid exclude path "["`)
	assert.Len(t, cfg.ExcludePaths, 2)
}

func TestExcludePathFlagConfig(t *testing.T) {
	for _, tt := range []struct {
		name    string
		yaml    string
		want    string
		wantErr string
	}{{
		name: "single expression",
		yaml: "exclude-path: ^/static/",
		want: "^/static/",
	}, {
		name: "list",
		yaml: "exclude-path:\n- ^/static/\n- ^/health$\n",
		want: "^/static/ ^/health$",
	}, {
		name: "empty",
		yaml: "exclude-path:",
		want: "",
	}, {
		name:    "invalid expression",
		yaml:    "exclude-path:\n- \"[\"\n- ^/static/\n",
		wantErr: `invalid exclude path "["`,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := yaml.Unmarshal([]byte(tt.yaml), cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.ExcludePaths.String())
		})
	}
}

func TestRequestHeaderFlag(t *testing.T) {
	for _, tt := range []struct {
		name    string
		values  []string
		want    http.Header
		wantErr string
	}{{
		name:   "single header",
		values: []string{"X-Forwarded-Proto=https"},
		want:   http.Header{"X-Forwarded-Proto": {"https"}},
	}, {
		name:   "comma separated, canonicalized",
		values: []string{"x-tenant=acme, X-Region = eu-central-1"},
		want:   http.Header{"X-Tenant": {"acme"}, "X-Region": {"eu-central-1"}},
	}, {
		name:   "repeated",
		values: []string{"X-Tenant=acme", "X-Region=eu-central-1", "X-Tenant=other"},
		want:   http.Header{"X-Tenant": {"other"}, "X-Region": {"eu-central-1"}},
	}, {
		name:   "value with equal sign",
		values: []string{"X-Query=a=b"},
		want:   http.Header{"X-Query": {"a=b"}},
	}, {
		name:    "missing value",
		values:  []string{"X-Tenant"},
		wantErr: `expected name=value but got: "X-Tenant"`,
	}, {
		name:    "empty value",
		values:  []string{"X-Tenant="},
		wantErr: `invalid value of request header X-Tenant: ""`,
	}, {
		name:    "empty name",
		values:  []string{"=acme"},
		wantErr: `invalid request header name: ""`,
	}, {
		name:    "invalid name",
		values:  []string{"X Tenant=acme"},
		wantErr: `invalid request header name: "X Tenant"`,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := setFlag(cfg, "request-header", tt.values...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			if d := cmp.Diff(tt.want, cfg.RequestHeaders.header); d != "" {
				t.Errorf("unexpected headers: %s", d)
			}
		})
	}
}

func TestRequestHeaderFlagConfig(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, yaml.Unmarshal([]byte("request-header:\n  x-forwarded-proto: https\n  X-Tenant: acme\n"), cfg))
	assert.Equal(t, "X-Forwarded-Proto=https,X-Tenant=acme", cfg.RequestHeaders.String())

	err := yaml.Unmarshal([]byte("request-header:\n  X-Tenant: \"\"\n"), NewConfig())
	assert.ErrorContains(t, err, "invalid value of request header X-Tenant")
}

func TestCompressEncodingsFlag(t *testing.T) {
	for _, tt := range []struct {
		name    string
		value   string
		want    []string
		wantErr string
	}{{
		name:  "priority order",
		value: "zstd,gzip",
		want:  []string{"zstd", "gzip"},
	}, {
		name:  "case and spaces",
		value: " GZIP , br ",
		want:  []string{"gzip", "br"},
	}, {
		name:  "empty",
		value: "",
		want:  nil,
	}, {
		name:    "not supported",
		value:   "gzip,compress",
		wantErr: `unsupported value "compress", expected one of: br, gzip, deflate, zstd`,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := setFlag(cfg, "compress-encodings", tt.value)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.CompressEncodings.values)
		})
	}
}

func TestMediaTypesFlag(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, setFlag(cfg, "compress-types", "text/html, Application/JSON"))
	require.NoError(t, setFlag(cfg, "decompress-types", "text/plain"))
	assert.Equal(t, []string{"text/html", "application/json"}, listValues(cfg.CompressTypes))
	assert.Equal(t, "text/plain", cfg.DecompressTypes.String())

	require.NoError(t, yaml.Unmarshal([]byte("compress-encodings: [br, zstd]\ncompress-types: [image/svg+xml]\n"), cfg))
	assert.Equal(t, []string{"br", "zstd"}, cfg.Codecs().Names())
	assert.Equal(t, []string{"image/svg+xml"}, listValues(cfg.CompressTypes))

	err := yaml.Unmarshal([]byte("compress-encodings: [gzip, lzw]\n"), NewConfig())
	assert.ErrorContains(t, err, `unsupported value "lzw"`)
}
