package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"text/template"

	orvos "github.com/orvnode/orv/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and panics if it fails.
func EnsureRoot(rootDir string) {
	if err := orvos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := orvos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm); err != nil {
		panic(err.Error())
	}
	if err := orvos.EnsureDir(filepath.Join(rootDir, defaultDataDir), defaultDirPerm); err != nil {
		panic(err.Error())
	}
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath. This function is called by cmd/orvnode/commands/init.go
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return orvos.WriteFileAtomic(path, buffer.Bytes(), 0644)
}

// WriteDefaultConfigFileIfNone writes the default config to the root unless
// a config file is already there.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !orvos.FileExists(configFilePath) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/orv/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.orv" by default, but could be changed via $ORV_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Ledger to join: dev | test
network = "{{ .BaseConfig.Network }}"

# Database backend: goleveldb | memdb
db_backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db_dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

# Number of workers delivering observer notifications
background_threads = {{ .BaseConfig.BackgroundThreads }}

#######################################################################
###                 Active Elections Configuration                  ###
#######################################################################
[active_elections]

# Number of concurrent priority elections
size = {{ .ActiveElections.Size }}

# Limit of hinted elections as percentage of size
hinted_limit_percentage = {{ .ActiveElections.HintedLimitPercentage }}

# Limit of optimistic elections as percentage of size
optimistic_limit_percentage = {{ .ActiveElections.OptimisticLimitPercentage }}

# Maximum number of forks tracked per election
max_blocks_per_election = {{ .ActiveElections.MaxBlocksPerElection }}

# Number of recently cemented election statuses kept for queries
confirmation_history_size = {{ .ActiveElections.ConfirmationHistorySize }}

# Number of recently confirmed roots remembered
confirmation_cache = {{ .ActiveElections.ConfirmationCache }}

# How often the election cycle runs
loop_interval = "{{ .ActiveElections.LoopInterval }}"

# Time to live of unconfirmed elections
priority_ttl = "{{ .ActiveElections.PriorityTTL }}"
hinted_ttl = "{{ .ActiveElections.HintedTTL }}"

#######################################################################
###                      Voting Configuration                       ###
#######################################################################
[voting]

# Online weight never counts as less than this, in raw
online_weight_minimum = "{{ .Voting.OnlineWeightMinimum }}"

# Percentage of online weight needed to confirm
online_weight_quorum = {{ .Voting.OnlineWeightQuorum }}

# A representative counts as online for this long after its last vote
online_weight_period = "{{ .Voting.OnlineWeightPeriod }}"

# Percentage of online weight cached votes need to start a hinted election
election_hint_weight_percent = {{ .Voting.ElectionHintWeightPercent }}

# Number of hashes with cached votes remembered
vote_cache_size = {{ .Voting.VoteCacheSize }}

# Local vote generation
vote_generator_delay = "{{ .Voting.VoteGeneratorDelay }}"
vote_generator_threshold = {{ .Voting.VoteGeneratorThreshold }}

# Maximum roots per outbound confirmation request
max_confirm_req_batch = {{ .Voting.MaxConfirmReqBatch }}

# File holding the hex seed of the local representative
representative_key_file = "{{ js .Voting.RepresentativeKeyFile }}"

#######################################################################
###                    Cementing Configuration                      ###
#######################################################################
[cementing]

batch_min_time = "{{ .Cementing.BatchMinTime }}"
batch_max_time = "{{ .Cementing.BatchMaxTime }}"
max_batch_size = {{ .Cementing.MaxBatchSize }}
max_queued = {{ .Cementing.MaxQueued }}

# Blocks may be missing from the ledger if they were pruned
pruning = {{ .Cementing.Pruning }}

#######################################################################
###                    Scheduler Configuration                      ###
#######################################################################
[scheduler]

priority_bucket_size = {{ .Scheduler.PriorityBucketSize }}
hinted_check_interval = "{{ .Scheduler.HintedCheckInterval }}"
block_processor_queue_size = {{ .Scheduler.BlockProcessorQueueSize }}

# How often the backlog scan visits the next batch of accounts with
# uncemented blocks, and how many accounts each step visits
backlog_scan_interval = "{{ .Scheduler.BacklogScanInterval }}"
backlog_batch_size = {{ .Scheduler.BacklogBatchSize }}

#######################################################################
###                    Instrumentation Options                      ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
