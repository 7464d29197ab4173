package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/EgorLis/my-media/internal/domain"
	"github.com/EgorLis/my-media/internal/media/policy"
)

// LoadPolicy собирает таблицу политик: зашитые значения, затем файл
// MEDIA_CONFIG_FILE, затем переменные RETENTION_<CATEGORY> / UPLOAD_MAX_BYTES_<CATEGORY>.
// Битые значения не роняют процесс: они возвращаются списком, а таблица
// остаётся на предыдущем слое.
func LoadPolicy(file string) (policy.Table, []error) {
	table := policy.Defaults()
	var problems []error

	if file != "" {
		limits, retention, errs := readPolicyFile(file)
		problems = append(problems, errs...)
		merged, errs := table.Merge(limits, retention)
		problems = append(problems, errs...)
		table = merged
	}

	limits, retention, errs := readPolicyEnv()
	problems = append(problems, errs...)
	merged, errs := table.Merge(limits, retention)
	problems = append(problems, errs...)
	return merged, problems
}

func readPolicyFile(file string) (map[domain.Category]policy.Limits, map[domain.Category]time.Duration, []error) {
	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, []error{fmt.Errorf("media config %s: %w", file, err)}
	}

	var errs []error
	var rawLimits map[string]policy.Limits
	if err := v.UnmarshalKey("limits", &rawLimits); err != nil {
		errs = append(errs, fmt.Errorf("media config limits: %w", err))
	}
	limits := make(map[domain.Category]policy.Limits, len(rawLimits))
	for k, l := range rawLimits {
		limits[domain.Category(strings.ToLower(k))] = l
	}

	retention := make(map[domain.Category]time.Duration)
	for k, raw := range v.GetStringMapString("retention") {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("media config retention.%s: %w", k, err))
			continue
		}
		retention[domain.Category(strings.ToLower(k))] = d
	}
	return limits, retention, errs
}

func readPolicyEnv() (map[domain.Category]policy.Limits, map[domain.Category]time.Duration, []error) {
	v := viper.New()
	v.AutomaticEnv()

	var errs []error
	limits := make(map[domain.Category]policy.Limits)
	retention := make(map[domain.Category]time.Duration)
	for _, c := range domain.Categories() {
		suffix := strings.ToUpper(string(c))

		if raw := strings.TrimSpace(v.GetString("RETENTION_" + suffix)); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("RETENTION_%s: %w", suffix, err))
			} else {
				retention[c] = d
			}
		}
		if v.IsSet("UPLOAD_MAX_BYTES_" + suffix) {
			n := v.GetInt64("UPLOAD_MAX_BYTES_" + suffix)
			if n <= 0 {
				errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES_%s: must be positive", suffix))
			} else {
				limits[c] = policy.Limits{MaxBytes: n}
			}
		}
	}
	return limits, retention, errs
}
