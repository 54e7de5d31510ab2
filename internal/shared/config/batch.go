package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// BatchConfig contains all configuration for a batch run.
type BatchConfig struct {
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Defaults   DefaultsConfig   `mapstructure:"defaults"`
	Validation ValidationConfig `mapstructure:"validation"`
	Staging    StagingConfig    `mapstructure:"staging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ExecutorConfig selects and configures the execution context backend.
type ExecutorConfig struct {
	Backend      string           `mapstructure:"backend"`
	Program      string           `mapstructure:"program"`
	Args         []string         `mapstructure:"args"`
	ImageVariant string           `mapstructure:"image_variant"`
	Images       ImagesConfig     `mapstructure:"images"`
	Docker       DockerConfig     `mapstructure:"docker"`
	Kubernetes   KubernetesConfig `mapstructure:"kubernetes"`
	Remote       RemoteConfig     `mapstructure:"remote"`
}

// ImagesConfig names the container image of each variant.
type ImagesConfig struct {
	Standard string `mapstructure:"standard"`
	CUDA     string `mapstructure:"cuda"`
}

type DockerConfig struct {
	Binary              string `mapstructure:"binary"`
	PreemptionExitCodes []int  `mapstructure:"preemption_exit_codes"`
}

type KubernetesConfig struct {
	Namespace      string        `mapstructure:"namespace"`
	Kubeconfig     string        `mapstructure:"kubeconfig"`
	ServiceAccount string        `mapstructure:"service_account"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type RemoteConfig struct {
	Agents           []string      `mapstructure:"agents"`
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`
}

// RetryConfig holds the per-job retry budgets.
type RetryConfig struct {
	MaxFailureRetries    int           `mapstructure:"max_failure_retries"`
	MaxPreemptionRetries int           `mapstructure:"max_preemption_retries"`
	Backoff              time.Duration `mapstructure:"backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
}

// ResourcesConfig is the fixed shape of every execution context.
type ResourcesConfig struct {
	CPU        int `mapstructure:"cpu"`
	MemoryGB   int `mapstructure:"memory_gb"`
	BootDiskGB int `mapstructure:"boot_disk_gb"`
}

type DispatchConfig struct {
	Parallelism int     `mapstructure:"parallelism"`
	SubmitRate  float64 `mapstructure:"submit_rate"`
	SubmitBurst int     `mapstructure:"submit_burst"`
}

// DefaultsConfig fills fields omitted by manifest entries.
type DefaultsConfig struct {
	InputBucket string `mapstructure:"input_bucket"`
	StageDir    string `mapstructure:"stage_dir"`
}

type ValidationConfig struct {
	CheckIndexOverlap bool `mapstructure:"check_index_overlap"`
}

// StagingConfig configures access to the S3-compatible staging storage.
type StagingConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	VerifyOutputs   bool   `mapstructure:"verify_outputs"`
	ReportLocation  string `mapstructure:"report_location"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// LoadBatch loads the batch configuration from the given path.
// If configPath is empty, it looks for casbatch.yaml in the config/ directory.
// Environment variables with CASBATCH_ prefix override config file values.
func LoadBatch(configPath string) (*BatchConfig, error) {
	v := viper.New()

	v.SetDefault("executor.backend", "process")
	v.SetDefault("executor.program", "")
	v.SetDefault("executor.args", []string{})
	v.SetDefault("executor.image_variant", "standard")
	v.SetDefault("executor.images.standard", "")
	v.SetDefault("executor.images.cuda", "")
	v.SetDefault("executor.docker.binary", "docker")
	v.SetDefault("executor.docker.preemption_exit_codes", []int{137, 143})
	v.SetDefault("executor.kubernetes.namespace", "default")
	v.SetDefault("executor.kubernetes.kubeconfig", "")
	v.SetDefault("executor.kubernetes.service_account", "")
	v.SetDefault("executor.kubernetes.poll_interval", 10*time.Second)
	v.SetDefault("executor.remote.agents", []string{})
	v.SetDefault("executor.remote.keepalive_time", 30*time.Second)
	v.SetDefault("executor.remote.keepalive_timeout", 5*time.Second)
	v.SetDefault("retry.max_failure_retries", 3)
	v.SetDefault("retry.max_preemption_retries", 3)
	v.SetDefault("retry.backoff", 5*time.Second)
	v.SetDefault("retry.max_backoff", time.Minute)
	v.SetDefault("resources.cpu", 8)
	v.SetDefault("resources.memory_gb", 16)
	v.SetDefault("resources.boot_disk_gb", 50)
	v.SetDefault("dispatch.parallelism", 0)
	v.SetDefault("dispatch.submit_rate", 0)
	v.SetDefault("dispatch.submit_burst", 1)
	v.SetDefault("defaults.input_bucket", "")
	v.SetDefault("defaults.stage_dir", "")
	v.SetDefault("validation.check_index_overlap", true)
	v.SetDefault("staging.endpoint", "")
	v.SetDefault("staging.region", "auto")
	v.SetDefault("staging.access_key_id", "")
	v.SetDefault("staging.secret_access_key", "")
	v.SetDefault("staging.use_path_style", false)
	v.SetDefault("staging.verify_outputs", false)
	v.SetDefault("staging.report_location", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job_name", "casbatch")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("casbatch")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CASBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg BatchConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *BatchConfig) Validate() error {
	switch {
	case c.Retry.MaxFailureRetries < 0:
		return fmt.Errorf("retry.max_failure_retries must not be negative")
	case c.Retry.MaxPreemptionRetries < 0:
		return fmt.Errorf("retry.max_preemption_retries must not be negative")
	case c.Resources.CPU <= 0 || c.Resources.MemoryGB <= 0 || c.Resources.BootDiskGB <= 0:
		return fmt.Errorf("resources must be positive, got %+v", c.Resources)
	case c.Dispatch.Parallelism < 0:
		return fmt.Errorf("dispatch.parallelism must not be negative")
	case c.Dispatch.SubmitRate < 0:
		return fmt.Errorf("dispatch.submit_rate must not be negative")
	}
	switch c.Executor.ImageVariant {
	case "standard", "cuda":
	default:
		return fmt.Errorf("executor.image_variant must be standard or cuda, got %q", c.Executor.ImageVariant)
	}
	return nil
}

// Image returns the container image of the configured variant.
func (c ExecutorConfig) Image() string {
	if c.ImageVariant == "cuda" {
		return c.Images.CUDA
	}
	return c.Images.Standard
}
