package config

import "time"

// DefaultConfig returns a Config with every field set to the value named in
// spec.md's component parameter tables.
func DefaultConfig() *Config {
	return &Config{
		Backend:   DefaultBackendConfig(),
		Database:  DefaultDatabaseConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Batch:     DefaultBatchConfig(),
		Index:     DefaultIndexConfig(),
		Link:      DefaultLinkConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Graph:     DefaultGraphConfig(),
		Reduce:    DefaultReduceConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

func DefaultBackendConfig() BackendConfig {
	return BackendConfig{Kind: "memory"}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "memkit",
		Password:        "",
		Name:            "memkit",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "ollama",
		Endpoint:   "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 0,
		Timeout:    30 * time.Second,
		MaxRetries: 2,
	}
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Size:       32,
		TimeoutMS:  50 * time.Millisecond,
		QueueDepth: 1024,
	}
}

func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Mode:        "ephemeral",
		Workers:     4,
		DedupWindow: 60 * time.Second,
	}
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Threshold:     0.75,
		MaxCandidates: 20,
		MaxLinks:      5,
	}
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		DefaultLimit:     5,
		DefaultThreshold: 0.3,
	}
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		DefaultDepth: 2,
		MaxDepth:     3,
	}
}

func DefaultReduceConfig() ReduceConfig {
	return ReduceConfig{
		DefaultMaxTokens: 2000,
		TokenModel:       "gpt-4o",
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "memkit",
		SampleRate:   0.1,
	}
}
