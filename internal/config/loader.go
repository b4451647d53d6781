package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/ryabkov82/crm-writer/internal/client"
	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
)

const moduleName = "config"

// TokenEnv carries the API token; it wins over any token in the file.
const TokenEnv = "CRMW_API_TOKEN"

// Load builds the configuration from defaults, the file at path (optional),
// the .env file at envFile (optional; ./.env is tried when empty) and the
// environment, then validates it.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, exception.Configuration(moduleName, fmt.Sprintf("failed to load env file %s", envFile), err)
		}
	} else {
		// A missing ./.env is normal.
		_ = godotenv.Load()
	}

	cfg := Default()

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := bind(raw, cfg); err != nil {
			return nil, exception.Configuration(moduleName, fmt.Sprintf("failed to bind %s", path), err)
		}
	}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, exception.Configuration(moduleName, "failed to load config from environment variables", err)
	}
	cfg.API.Token, _ = client.ResolveToken(os.Getenv(TokenEnv), cfg.API.Token)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile parses a YAML or JSON file into a generic map, translating the
// Keboola layout when a "parameters" block is present.
func readFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.Configuration(moduleName, "failed to read config file", err)
	}

	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, exception.Configuration(moduleName, fmt.Sprintf("failed to parse %s", path), err)
	}

	if _, ok := raw["parameters"]; ok {
		return fromKeboola(raw, filepath.Dir(path)), nil
	}
	return raw, nil
}

// fromKeboola maps a Keboola config.json onto the native layout.
// dataDir is the directory holding config.json, in/ and out/.
func fromKeboola(raw map[string]interface{}, dataDir string) map[string]interface{} {
	params, _ := raw["parameters"].(map[string]interface{})
	out := make(map[string]interface{}, len(params)+4)
	for k, v := range params {
		switch k {
		case "#api_token", "endpoint", "debug":
		default:
			out[k] = v
		}
	}

	api := section(out, "api")
	if token, ok := params["#api_token"]; ok {
		api["token"] = fmt.Sprint(token)
	}
	if name, ok := params["endpoint"]; ok {
		out["operation"] = fmt.Sprint(name)
	}
	if debug, ok := params["debug"]; ok {
		if on, err := strconv.ParseBool(fmt.Sprint(debug)); err == nil && on {
			section(out, "logging")["level"] = "debug"
		}
	}

	input := section(out, "input")
	if _, ok := input["tables_dir"]; !ok {
		input["tables_dir"] = filepath.Join(dataDir, "in", "tables")
	}
	if tables := keboolaTables(raw); len(tables) > 0 {
		if _, ok := input["tables"]; !ok {
			input["tables"] = tables
		}
	}

	output := section(out, "output")
	if _, ok := output["errors_path"]; !ok {
		output["errors_path"] = filepath.Join(dataDir, "out", "tables", "errors.csv")
	}
	return out
}

// keboolaTables returns storage.input.tables[].destination.
func keboolaTables(raw map[string]interface{}) []interface{} {
	storage, _ := raw["storage"].(map[string]interface{})
	input, _ := storage["input"].(map[string]interface{})
	list, _ := input["tables"].([]interface{})

	var tables []interface{}
	for _, item := range list {
		t, _ := item.(map[string]interface{})
		if dest, ok := t["destination"].(string); ok && dest != "" {
			tables = append(tables, dest)
		}
	}
	return tables
}

func section(m map[string]interface{}, key string) map[string]interface{} {
	if s, ok := m[key].(map[string]interface{}); ok {
		return s
	}
	s := map[string]interface{}{}
	m[key] = s
	return s
}

// bind decodes raw onto cfg. Keys absent from raw keep their current value.
func bind(raw map[string]interface{}, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	return decoder.Decode(raw)
}

// loadStruct recursively overrides fields tagged `env` from the environment.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		value, ok := os.LookupEnv(envName)
		if !ok || value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(int64(i))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if strings.TrimSpace(c.Operation) == "" {
		result = multierror.Append(result, errors.New("operation is required"))
	} else if _, err := endpoint.Resolve(c.Operation); err != nil {
		result = multierror.Append(result, err)
	}

	if strings.TrimSpace(c.API.Token) == "" {
		result = multierror.Append(result, fmt.Errorf("api token is required (parameters.#api_token or %s): %w", TokenEnv, exception.ErrMissingCredential))
	}
	if _, err := client.ParseAuthMode(c.API.AuthMode); err != nil {
		result = multierror.Append(result, err)
	}
	if c.API.TimeoutSeconds <= 0 {
		result = multierror.Append(result, fmt.Errorf("api.timeout_seconds must be positive, got %d", c.API.TimeoutSeconds))
	}
	if c.API.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries))
	}
	if c.API.BackoffMs < 0 || c.API.BackoffMaxMs < 0 {
		result = multierror.Append(result, errors.New("api backoff must not be negative"))
	}

	if c.Batch.Size < 0 {
		result = multierror.Append(result, fmt.Errorf("batch.size must not be negative, got %d", c.Batch.Size))
	}
	if c.Batch.PacingMs < 0 {
		result = multierror.Append(result, fmt.Errorf("batch.pacing_ms must not be negative, got %d", c.Batch.PacingMs))
	}

	if strings.TrimSpace(c.Input.TablesDir) == "" {
		result = multierror.Append(result, errors.New("input.tables_dir is required"))
	}
	switch strings.ToLower(c.Input.Encoding) {
	case "", "utf-8", "utf8", "windows-1251", "cp1251":
	default:
		result = multierror.Append(result, fmt.Errorf("input.encoding %q is not supported", c.Input.Encoding))
	}
	if c.Input.Delimiter != "" && utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		result = multierror.Append(result, fmt.Errorf("input.delimiter must be one character, got %q", c.Input.Delimiter))
	}

	if c.Output.ErrorsPath == "" && c.Output.PostgresURL == "" {
		result = multierror.Append(result, errors.New("output.errors_path or output.postgres_url is required"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("logging.level %q is invalid", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("logging.format %q is invalid", c.Logging.Format))
	}

	if err := result.ErrorOrNil(); err != nil {
		return exception.Configuration(moduleName, "invalid configuration", err)
	}
	return nil
}
