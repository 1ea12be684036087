package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/semindex/search/embedding"
	"github.com/hazyhaar/semindex/search/textgen"
)

// ContentStorageType selects the blob store backend behind the artifact
// and pipeline-state stores.
type ContentStorageType string

const (
	ContentStorageFileSystem ContentStorageType = "filesystem"
	ContentStorageAzureBlobs ContentStorageType = "azureblobs"
)

// OrchestrationType selects whether pipelines run on the calling goroutine
// or are driven by queue subscriptions.
type OrchestrationType string

const (
	OrchestrationInProcess  OrchestrationType = "inprocess"
	OrchestrationDistributed OrchestrationType = "distributed"
)

// QueueType selects the distributed orchestrator's transport. Only
// FileBased and NATS are backed by a concrete queue.Factory in this
// module; RabbitMQ/AzureQueue are recognized variant names with no adapter
// shipped (see DESIGN.md).
type QueueType string

const (
	QueueFileBased QueueType = "filebased"
	QueueNATS      QueueType = "nats"
	QueueRabbitMQ  QueueType = "rabbitmq"
	QueueAzure     QueueType = "azurequeue"
)

// VectorDbType selects the query-time vector store.
type VectorDbType string

const (
	VectorDbFileSystem VectorDbType = "filesystem"
	VectorDbQdrant     VectorDbType = "qdrant"
)

// Config is the top-level wiring configuration: it names a variant per
// REDESIGN FLAGS §9 rather than importing every adapter's package
// unconditionally, so main can build exactly the components a deployment
// needs.
type Config struct {
	Port string `yaml:"port"`

	DataDir string `yaml:"data_dir"`

	ContentStorage ContentStorageType `yaml:"content_storage"`
	Orchestration  OrchestrationType  `yaml:"orchestration"`
	Queue          QueueType          `yaml:"queue"`
	VectorDb       VectorDbType       `yaml:"vector_db"`

	QueueNATSURL string `yaml:"queue_nats_url"`
	QdrantAddr   string `yaml:"qdrant_addr"`

	EmbeddingGenerationEnabled bool `yaml:"embedding_generation_enabled"`
	Embedding                  embedding.Config `yaml:"embedding"`
	TextGen                    textgen.Config   `yaml:"text_generation"`

	Partition PartitionConfig `yaml:"partition"`

	ContentStorageDBPath string        `yaml:"content_storage_db_path"`
	QueueFetchBatchSize  int           `yaml:"queue_fetch_batch_size"`
	QueueFetchLock       time.Duration `yaml:"queue_fetch_lock"`
	QueueMaxAttempts     int           `yaml:"queue_max_attempts"`
}

// PartitionConfig mirrors handler/partition.Options so it can be loaded
// from YAML without handler/partition depending on encoding format
// libraries it otherwise has no use for.
type PartitionConfig struct {
	MaxTokens          int `yaml:"max_tokens"`
	OverlapTokens      int `yaml:"overlap_tokens"`
	MinPartitionTokens int `yaml:"min_partition_tokens"`
}

func (c *Config) defaults() {
	if c.Port == "" {
		c.Port = "8085"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ContentStorage == "" {
		c.ContentStorage = ContentStorageFileSystem
	}
	if c.Orchestration == "" {
		c.Orchestration = OrchestrationInProcess
	}
	if c.Queue == "" {
		c.Queue = QueueFileBased
	}
	if c.VectorDb == "" {
		c.VectorDb = VectorDbFileSystem
	}
	if c.ContentStorageDBPath == "" {
		c.ContentStorageDBPath = c.DataDir + "/contentstorage.db"
	}
	if c.QueueFetchBatchSize <= 0 {
		c.QueueFetchBatchSize = 10
	}
	if c.QueueFetchLock <= 0 {
		c.QueueFetchLock = 300 * time.Second
	}
	if c.QueueMaxAttempts <= 0 {
		c.QueueMaxAttempts = 2
	}
}

// loadConfig reads a YAML config file at path, applying defaults to
// whatever it leaves unset. A missing file is not an error: it yields the
// all-defaults Config (first-run friendliness per spec §6 exit codes).
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.defaults()
				return cfg, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.defaults()
	return cfg, nil
}
