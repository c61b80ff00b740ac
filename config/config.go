package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/orvnode/orv/types"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// NetworkDev runs a private ledger whose genesis key is well known.
	NetworkDev = "dev"
	// NetworkTest runs the shared test ledger.
	NetworkTest = "test"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultOrvDir    = ".orv"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	ActiveElections *ActiveElectionsConfig `mapstructure:"active_elections"`
	Voting          *VotingConfig          `mapstructure:"voting"`
	Cementing       *CementingConfig       `mapstructure:"cementing"`
	Scheduler       *SchedulerConfig       `mapstructure:"scheduler"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		ActiveElections: DefaultActiveElectionsConfig(),
		Voting:          DefaultVotingConfig(),
		Cementing:       DefaultCementingConfig(),
		Scheduler:       DefaultSchedulerConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		ActiveElections: TestActiveElectionsConfig(),
		Voting:          TestVotingConfig(),
		Cementing:       TestCementingConfig(),
		Scheduler:       TestSchedulerConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.Voting.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.ActiveElections.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [active_elections] section")
	}
	if err := cfg.Voting.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [voting] section")
	}
	if err := cfg.Cementing.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [cementing] section")
	}
	if err := cfg.Scheduler.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [scheduler] section")
	}
	return errors.Wrap(
		cfg.Instrumentation.ValidateBasic(),
		"error in [instrumentation] section",
	)
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Ledger to join: dev | test
	Network string `mapstructure:"network"`

	// Database backend: goleveldb | memdb
	DBBackend string `mapstructure:"db_backend"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`

	// Number of workers delivering observer notifications and activating
	// successor elections.
	BackgroundThreads int `mapstructure:"background_threads"`
}

// DefaultBaseConfig returns a default base configuration for a node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:           defaultMoniker,
		Network:           NetworkDev,
		DBBackend:         "goleveldb",
		DBPath:            "data",
		LogLevel:          DefaultLogLevel,
		LogFormat:         LogFormatPlain,
		BackgroundThreads: 4,
	}
}

// TestBaseConfig returns a base configuration for testing a node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = "memdb"
	cfg.BackgroundThreads = 2
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	switch cfg.Network {
	case NetworkDev, NetworkTest:
	default:
		return fmt.Errorf("unknown network %q (must be 'dev' or 'test')", cfg.Network)
	}
	if cfg.BackgroundThreads <= 0 {
		return errors.New("background_threads must be positive")
	}
	return nil
}

// DefaultLogLevel returns a default log level of "info"
const DefaultLogLevel = "info"

//-----------------------------------------------------------------------------
// ActiveElectionsConfig

// ActiveElectionsConfig bounds the set of concurrently running elections.
type ActiveElectionsConfig struct {
	// Number of concurrent priority elections. Hinted and optimistic
	// elections are limited to a percentage of this.
	Size int `mapstructure:"size"`

	// Limit of hinted elections as percentage of size
	HintedLimitPercentage int `mapstructure:"hinted_limit_percentage"`

	// Limit of optimistic elections as percentage of size
	OptimisticLimitPercentage int `mapstructure:"optimistic_limit_percentage"`

	// Maximum number of candidate blocks (forks) tracked per election
	MaxBlocksPerElection int `mapstructure:"max_blocks_per_election"`

	// Number of recently cemented election statuses kept for queries
	ConfirmationHistorySize int `mapstructure:"confirmation_history_size"`

	// Number of recently confirmed roots remembered to classify late votes
	ConfirmationCache int `mapstructure:"confirmation_cache"`

	// How often the election cycle runs
	LoopInterval time.Duration `mapstructure:"loop_interval"`

	// Time to live of unconfirmed priority and manual elections
	PriorityTTL time.Duration `mapstructure:"priority_ttl"`

	// Time to live of unconfirmed hinted and optimistic elections
	HintedTTL time.Duration `mapstructure:"hinted_ttl"`
}

// DefaultActiveElectionsConfig returns a default configuration for the
// election container.
func DefaultActiveElectionsConfig() *ActiveElectionsConfig {
	return &ActiveElectionsConfig{
		Size:                      5000,
		HintedLimitPercentage:     20,
		OptimisticLimitPercentage: 10,
		MaxBlocksPerElection:      10,
		ConfirmationHistorySize:   2048,
		ConfirmationCache:         65536,
		LoopInterval:              500 * time.Millisecond,
		PriorityTTL:               5 * time.Minute,
		HintedTTL:                 30 * time.Second,
	}
}

// TestActiveElectionsConfig returns a configuration for testing the
// election container.
func TestActiveElectionsConfig() *ActiveElectionsConfig {
	cfg := DefaultActiveElectionsConfig()
	cfg.LoopInterval = 10 * time.Millisecond
	return cfg
}

// Limit returns the number of elections allowed for the bucket with the
// given percentage of size.
func (cfg *ActiveElectionsConfig) Limit(percentage int) int {
	return cfg.Size * percentage / 100
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ActiveElectionsConfig) ValidateBasic() error {
	if cfg.Size <= 0 {
		return errors.New("size must be positive")
	}
	if cfg.HintedLimitPercentage < 0 || cfg.HintedLimitPercentage > 100 {
		return errors.New("hinted_limit_percentage must be within [0, 100]")
	}
	if cfg.OptimisticLimitPercentage < 0 || cfg.OptimisticLimitPercentage > 100 {
		return errors.New("optimistic_limit_percentage must be within [0, 100]")
	}
	if cfg.MaxBlocksPerElection < 1 {
		return errors.New("max_blocks_per_election must be at least 1")
	}
	if cfg.ConfirmationHistorySize < 0 {
		return errors.New("confirmation_history_size can't be negative")
	}
	if cfg.ConfirmationCache <= 0 {
		return errors.New("confirmation_cache must be positive")
	}
	if cfg.LoopInterval <= 0 {
		return errors.New("loop_interval must be positive")
	}
	if cfg.PriorityTTL <= 0 || cfg.HintedTTL <= 0 {
		return errors.New("election time to live must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// VotingConfig

// VotingConfig defines quorum and local vote generation parameters.
type VotingConfig struct {
	RootDir string `mapstructure:"home"`

	// Online weight never counts as less than this, in raw
	OnlineWeightMinimum string `mapstructure:"online_weight_minimum"`

	// Percentage of online weight a winner needs to be confirmed
	OnlineWeightQuorum int `mapstructure:"online_weight_quorum"`

	// A representative counts as online for this long after its last vote
	OnlineWeightPeriod time.Duration `mapstructure:"online_weight_period"`

	// Percentage of online weight cached votes need to start a hinted election
	ElectionHintWeightPercent int `mapstructure:"election_hint_weight_percent"`

	// Number of hashes with cached votes remembered while no election exists
	VoteCacheSize int `mapstructure:"vote_cache_size"`

	// Local vote generation: delay before a partial batch is signed, and the
	// number of queued hashes that triggers signing immediately
	VoteGeneratorDelay     time.Duration `mapstructure:"vote_generator_delay"`
	VoteGeneratorThreshold int           `mapstructure:"vote_generator_threshold"`

	// Maximum roots per outbound confirmation request
	MaxConfirmReqBatch int `mapstructure:"max_confirm_req_batch"`

	// File holding the hex seed of the local representative. Empty disables
	// local voting.
	RepresentativeKeyFile string `mapstructure:"representative_key_file"`
}

// DefaultVotingConfig returns a default voting configuration.
func DefaultVotingConfig() *VotingConfig {
	return &VotingConfig{
		OnlineWeightMinimum:       "60000000000000000000000000000000000000",
		OnlineWeightQuorum:        67,
		OnlineWeightPeriod:        5 * time.Minute,
		ElectionHintWeightPercent: 10,
		VoteCacheSize:             65536,
		VoteGeneratorDelay:        100 * time.Millisecond,
		VoteGeneratorThreshold:    3,
		MaxConfirmReqBatch:        100,
	}
}

// TestVotingConfig returns a voting configuration for testing.
func TestVotingConfig() *VotingConfig {
	cfg := DefaultVotingConfig()
	cfg.VoteGeneratorDelay = 5 * time.Millisecond
	return cfg
}

// OnlineWeightMinimumAmount parses the configured minimum.
func (cfg *VotingConfig) OnlineWeightMinimumAmount() (types.Amount, error) {
	return types.AmountFromDecimal(cfg.OnlineWeightMinimum)
}

// RepresentativeKey loads the local representative key. ok is false when
// local voting is disabled.
func (cfg *VotingConfig) RepresentativeKey() (key types.PrivKey, ok bool, err error) {
	if cfg.RepresentativeKeyFile == "" {
		return types.PrivKey{}, false, nil
	}
	bz, err := os.ReadFile(rootify(cfg.RepresentativeKeyFile, cfg.RootDir))
	if err != nil {
		return types.PrivKey{}, false, fmt.Errorf("reading representative key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(bz)))
	if err != nil {
		return types.PrivKey{}, false, fmt.Errorf("decoding representative key: %w", err)
	}
	key, err = types.PrivKeyFromSeed(seed)
	if err != nil {
		return types.PrivKey{}, false, err
	}
	return key, true, nil
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *VotingConfig) ValidateBasic() error {
	minimum, err := cfg.OnlineWeightMinimumAmount()
	if err != nil {
		return fmt.Errorf("online_weight_minimum: %w", err)
	}
	if minimum.IsZero() {
		return errors.New("online_weight_minimum must be positive")
	}
	if cfg.OnlineWeightQuorum <= 50 || cfg.OnlineWeightQuorum > 100 {
		return errors.New("online_weight_quorum must be within (50, 100]")
	}
	if cfg.OnlineWeightPeriod <= 0 {
		return errors.New("online_weight_period must be positive")
	}
	if cfg.ElectionHintWeightPercent < 0 || cfg.ElectionHintWeightPercent > 100 {
		return errors.New("election_hint_weight_percent must be within [0, 100]")
	}
	if cfg.VoteCacheSize <= 0 {
		return errors.New("vote_cache_size must be positive")
	}
	if cfg.VoteGeneratorDelay < 0 {
		return errors.New("vote_generator_delay can't be negative")
	}
	if cfg.VoteGeneratorThreshold < 1 || cfg.VoteGeneratorThreshold > types.MaxVoteHashes {
		return fmt.Errorf("vote_generator_threshold must be within [1, %d]", types.MaxVoteHashes)
	}
	if cfg.MaxConfirmReqBatch <= 0 {
		return errors.New("max_confirm_req_batch must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// CementingConfig

// CementingConfig tunes how confirmed blocks are written as cemented.
type CementingConfig struct {
	// Minimum time a batch stays open while more confirmations keep arriving
	BatchMinTime time.Duration `mapstructure:"batch_min_time"`

	// A batch is committed once it has been open this long
	BatchMaxTime time.Duration `mapstructure:"batch_max_time"`

	// Maximum number of blocks cemented in one write transaction
	MaxBatchSize int `mapstructure:"max_batch_size"`

	// Maximum number of confirmed hashes waiting to be cemented
	MaxQueued int `mapstructure:"max_queued"`

	// Blocks may be missing from the ledger if they were pruned
	Pruning bool `mapstructure:"pruning"`
}

// DefaultCementingConfig returns a default cementing configuration.
func DefaultCementingConfig() *CementingConfig {
	return &CementingConfig{
		BatchMinTime: 50 * time.Millisecond,
		BatchMaxTime: 500 * time.Millisecond,
		MaxBatchSize: 4096,
		MaxQueued:    128 * 1024,
		Pruning:      false,
	}
}

// TestCementingConfig returns a cementing configuration for testing.
func TestCementingConfig() *CementingConfig {
	cfg := DefaultCementingConfig()
	cfg.BatchMinTime = time.Millisecond
	cfg.BatchMaxTime = 10 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *CementingConfig) ValidateBasic() error {
	if cfg.BatchMinTime < 0 {
		return errors.New("batch_min_time can't be negative")
	}
	if cfg.BatchMaxTime < cfg.BatchMinTime {
		return errors.New("batch_max_time must not be less than batch_min_time")
	}
	if cfg.MaxBatchSize <= 0 {
		return errors.New("max_batch_size must be positive")
	}
	if cfg.MaxQueued <= 0 {
		return errors.New("max_queued must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SchedulerConfig

// SchedulerConfig configures the queues feeding the election container.
type SchedulerConfig struct {
	// Maximum accounts waiting per balance bucket of the priority scheduler
	PriorityBucketSize int `mapstructure:"priority_bucket_size"`

	// How often cached votes are checked for hinted elections
	HintedCheckInterval time.Duration `mapstructure:"hinted_check_interval"`

	// Maximum blocks waiting in the block processor
	BlockProcessorQueueSize int `mapstructure:"block_processor_queue_size"`

	// How often the backlog scan visits the next batch of accounts with
	// uncemented blocks
	BacklogScanInterval time.Duration `mapstructure:"backlog_scan_interval"`

	// Accounts visited per backlog scan step
	BacklogBatchSize int `mapstructure:"backlog_batch_size"`
}

// DefaultSchedulerConfig returns a default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		PriorityBucketSize:      250,
		HintedCheckInterval:     time.Second,
		BlockProcessorQueueSize: 65536,
		BacklogScanInterval:     time.Second,
		BacklogBatchSize:        10000,
	}
}

// TestSchedulerConfig returns a scheduler configuration for testing.
func TestSchedulerConfig() *SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	cfg.HintedCheckInterval = 10 * time.Millisecond
	cfg.BacklogScanInterval = 50 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SchedulerConfig) ValidateBasic() error {
	if cfg.PriorityBucketSize <= 0 {
		return errors.New("priority_bucket_size must be positive")
	}
	if cfg.HintedCheckInterval <= 0 {
		return errors.New("hinted_check_interval must be positive")
	}
	if cfg.BlockProcessorQueueSize <= 0 {
		return errors.New("block_processor_queue_size must be positive")
	}
	if cfg.BacklogScanInterval <= 0 {
		return errors.New("backlog_scan_interval must be positive")
	}
	if cfg.BacklogBatchSize <= 0 {
		return errors.New("backlog_batch_size must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	// Check out the documentation for the list of available metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":9795",
		Namespace:            "orv",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus_listen_addr must be set when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
