// Package config provides the plain Go configuration structs consumed by
// the core packages (spec.md §6.4), plus environment-variable loading and
// validation helpers. Core packages take these structs directly and never
// import viper themselves — viper only lives in the cli package, the
// bootstrap edge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig loads typed values from environment variables under an optional
// prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig constructs an EnvConfig. An empty prefix reads bare keys.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

func (ec *EnvConfig) GetString(key, def string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return def
}

func (ec *EnvConfig) GetInt(key string, def int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (ec *EnvConfig) GetInt64(key string, def int64) int64 {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func (ec *EnvConfig) GetBool(key string, def bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (ec *EnvConfig) GetDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (ec *EnvConfig) GetStringSlice(key string, def []string) []string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// WaterMarkSettings mirrors queue.WaterMarks at the configuration surface.
type WaterMarkSettings struct {
	High       int
	Low        int
	Discard    int
	FullDelay  int
	LightDelay int
}

// TimeWindowSettings mirrors queue.TimeWindow at the configuration surface.
type TimeWindowSettings struct {
	From string
	To   string
}

// QueueSettings is the per-queue configuration surface (spec.md §6.4).
type QueueSettings struct {
	Name                  string
	Type                  string
	Size                  int
	DequeueBatchSize      int
	Marks                 WaterMarkSettings
	DiscardSeverity       int
	NumWorkers            int
	MinWorkers            int
	FilePrefix            string
	MaxFileSize           int64
	MaxDiskBytes          int64
	PersistUpdateCount    int
	QueueShutdownTimeout  time.Duration
	ActionShutdownTimeout time.Duration
	WorkerShutdownTimeout time.Duration
	EnqueueTimeout        time.Duration
	MinMsgsPerWorker      int
	SaveOnShutdown        bool
	DequeueSlowdown       time.Duration
	DequeueWindow         TimeWindowSettings
}

// ActionSettings is the per-action configuration surface (spec.md §6.4).
type ActionSettings struct {
	Name                  string
	ResumeInterval        time.Duration
	ResumeRetryCount      int
	ExecEveryNth          int
	ExecEveryNthTimeout   time.Duration
	ExecOnceEveryInterval time.Duration
	ReduceRepeated        bool
	RepeatIntervalBase    time.Duration
	WriteAllMarkMsgs      bool
	MarkInterval          time.Duration
	ExecWhenPrevSuspended bool
	ParamMode             string
	Module                string
}

// LoadQueueSettings loads one queue's settings from environment variables
// under prefix (e.g. "SYSLOGCORE_QUEUE_MAIN").
func LoadQueueSettings(prefix string) QueueSettings {
	env := NewEnvConfig(prefix)
	return QueueSettings{
		Name:                  env.GetString("NAME", ""),
		Type:                  env.GetString("TYPE", "fixedarray"),
		Size:                  env.GetInt("SIZE", 10000),
		DequeueBatchSize:      env.GetInt("DEQUEUE_BATCH_SIZE", 32),
		DiscardSeverity:       env.GetInt("DISCARD_SEVERITY", -1),
		NumWorkers:            env.GetInt("NUM_WORKERS", 1),
		MinWorkers:            env.GetInt("MIN_WORKERS", 1),
		FilePrefix:            env.GetString("FILE_PREFIX", ""),
		MaxFileSize:           env.GetInt64("MAX_FILE_SIZE", 0),
		MaxDiskBytes:          env.GetInt64("MAX_DISK_BYTES", 0),
		PersistUpdateCount:    env.GetInt("PERSIST_UPDATE_COUNT", 100),
		QueueShutdownTimeout:  env.GetDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
		ActionShutdownTimeout: env.GetDuration("ACTION_SHUTDOWN_TIMEOUT", 10*time.Second),
		WorkerShutdownTimeout: env.GetDuration("WORKER_SHUTDOWN_TIMEOUT", 5*time.Second),
		EnqueueTimeout:        env.GetDuration("ENQUEUE_TIMEOUT", 2*time.Second),
		MinMsgsPerWorker:      env.GetInt("MIN_MSGS_PER_WORKER", 100),
		SaveOnShutdown:        env.GetBool("SAVE_ON_SHUTDOWN", true),
		DequeueSlowdown:       env.GetDuration("DEQUEUE_SLOWDOWN", 0),
		Marks: WaterMarkSettings{
			High:       env.GetInt("WATERMARK_HIGH", 8000),
			Low:        env.GetInt("WATERMARK_LOW", 4000),
			Discard:    env.GetInt("WATERMARK_DISCARD", 9800),
			FullDelay:  env.GetInt("WATERMARK_FULL_DELAY", 9000),
			LightDelay: env.GetInt("WATERMARK_LIGHT_DELAY", 7000),
		},
	}
}

// LoadActionSettings loads one action's settings from environment variables
// under prefix.
func LoadActionSettings(prefix string) ActionSettings {
	env := NewEnvConfig(prefix)
	return ActionSettings{
		Name:                  env.GetString("NAME", ""),
		ResumeInterval:        env.GetDuration("RESUME_INTERVAL", 30*time.Second),
		ResumeRetryCount:      env.GetInt("RESUME_RETRY_COUNT", 10),
		ExecEveryNth:          env.GetInt("EXEC_EVERY_NTH", 0),
		ExecEveryNthTimeout:   env.GetDuration("EXEC_EVERY_NTH_TIMEOUT", 0),
		ExecOnceEveryInterval: env.GetDuration("EXEC_ONCE_EVERY_INTERVAL", 0),
		ReduceRepeated:        env.GetBool("REDUCE_REPEATED", false),
		RepeatIntervalBase:    env.GetDuration("REPEAT_INTERVAL_BASE", time.Second),
		WriteAllMarkMsgs:      env.GetBool("WRITE_ALL_MARK_MSGS", false),
		MarkInterval:          env.GetDuration("MARK_INTERVAL", 20*time.Minute),
		ExecWhenPrevSuspended: env.GetBool("EXEC_WHEN_PREV_SUSPENDED", false),
		ParamMode:             env.GetString("PARAM_MODE", "strings"),
		Module:                env.GetString("MODULE", ""),
	}
}

// MaskSecret renders a secret safe to put in a log line: the first and last
// four characters survive, everything between is elided. Short secrets
// collapse to "***" rather than leaking their length.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// RequireWaterMarkOrder validates low < high <= full-delay <= discard and
// light-delay <= full-delay, the ordering LoadQueueSettings' defaults follow.
func (v *Validator) RequireWaterMarkOrder(field string, m WaterMarkSettings) {
	if !(m.Low < m.High && m.High <= m.FullDelay && m.LightDelay <= m.FullDelay && m.FullDelay <= m.Discard) {
		v.errors = append(v.errors, fmt.Sprintf("%s: water-marks must satisfy low < high <= full-delay <= discard and light-delay <= full-delay", field))
	}
}

func (v *Validator) IsValid() bool    { return len(v.errors) == 0 }
func (v *Validator) Errors() []string { return v.errors }

func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// ValidateQueueSettings runs the invariants spec.md §4.2/§6.4 assume about a
// queue's configuration.
func ValidateQueueSettings(q QueueSettings) error {
	v := NewValidator()
	v.RequireString("Name", q.Name)
	v.RequireOneOf("Type", q.Type, []string{"fixedarray", "linkedlist", "disk", "direct"})
	v.RequirePositiveInt("Size", q.Size)
	v.RequirePositiveInt("DequeueBatchSize", q.DequeueBatchSize)
	v.RequireWaterMarkOrder("Marks", q.Marks)
	return v.Validate()
}

// ValidateActionSettings runs the invariants spec.md §4.1/§6.4 assume about
// an action's configuration.
func ValidateActionSettings(a ActionSettings) error {
	v := NewValidator()
	v.RequireString("Name", a.Name)
	if a.ResumeRetryCount < 0 {
		v.errors = append(v.errors, "ResumeRetryCount must not be negative")
	}
	return v.Validate()
}
