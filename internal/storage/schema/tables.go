package schema

// DefineChannelsTable 定义channels表结构
func DefineChannelsTable() *TableBuilder {
	return NewTable("channels").
		Column("id INT PRIMARY KEY AUTO_INCREMENT").
		Column("name VARCHAR(191) NOT NULL UNIQUE").
		Column("base_url VARCHAR(512) NOT NULL").
		Column("primary_api_key VARCHAR(512) NOT NULL").
		Column("key_mode VARCHAR(16) NOT NULL DEFAULT 'single'").
		Column("proxy_url VARCHAR(512) NOT NULL DEFAULT ''").
		Column("enabled TINYINT NOT NULL DEFAULT 1").
		Column("sort_order INT NOT NULL DEFAULT 0").
		Column("created_at BIGINT NOT NULL").
		Column("updated_at BIGINT NOT NULL").
		Index("idx_channels_enabled", "enabled").
		Index("idx_channels_sort", "sort_order, created_at DESC")
}

// DefineChannelKeysTable 定义channel_keys表结构：渠道的附加API Key，
// 独立记录每个key的探测有效性，一个坏key不拖累整个渠道。
func DefineChannelKeysTable() *TableBuilder {
	return NewTable("channel_keys").
		Column("id INT PRIMARY KEY AUTO_INCREMENT").
		Column("channel_id INT NOT NULL").
		Column("api_key VARCHAR(512) NOT NULL").
		Column("sort_index INT NOT NULL DEFAULT 0").
		Column("last_valid TINYINT NULL").
		Column("last_checked_at BIGINT NULL").
		Column("FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE").
		Index("idx_channel_keys_channel", "channel_id, sort_index")
}

// DefineModelsTable 定义models表结构
func DefineModelsTable() *TableBuilder {
	return NewTable("models").
		Column("id INT PRIMARY KEY AUTO_INCREMENT").
		Column("channel_id INT NOT NULL").
		Column("channel_key_id INT NULL").
		Column("model_name VARCHAR(191) NOT NULL").
		Column("health_status VARCHAR(16) NOT NULL DEFAULT 'unknown'").
		Column("last_status TINYINT NULL").
		Column("last_latency_ms BIGINT NULL").
		Column("last_checked_at BIGINT NULL").
		Column("created_at BIGINT NOT NULL").
		Column("UNIQUE KEY uk_channel_model (channel_id, model_name)").
		Column("FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE").
		Column("FOREIGN KEY (channel_key_id) REFERENCES channel_keys(id) ON DELETE SET NULL").
		Index("idx_models_channel", "channel_id").
		Index("idx_models_health", "health_status")
}

// DefineModelEndpointsTable 定义model_endpoints表结构：每个(modelId,
// endpointKind)至多一行，原地更新，从不追加。
func DefineModelEndpointsTable() *TableBuilder {
	return NewTable("model_endpoints").
		Column("model_id INT NOT NULL").
		Column("endpoint_kind VARCHAR(16) NOT NULL").
		Column("status VARCHAR(16) NOT NULL").
		Column("latency_ms BIGINT NOT NULL DEFAULT 0").
		Column("status_code INT NULL").
		Column("error_msg VARCHAR(512) NULL").
		Column("response_content TEXT NULL").
		Column("checked_at BIGINT NOT NULL").
		Column("PRIMARY KEY (model_id, endpoint_kind)").
		Column("FOREIGN KEY (model_id) REFERENCES models(id) ON DELETE CASCADE")
}

// DefineCheckLogsTable 定义check_logs表结构：append-only探测历史，按
// (modelId, createdAt desc) 和 createdAt 两个方向索引，分别服务于历史
// 查询和保留期清理。
func DefineCheckLogsTable() *TableBuilder {
	return NewTable("check_logs").
		Column("id INT PRIMARY KEY AUTO_INCREMENT").
		Column("model_id INT NOT NULL").
		Column("endpoint_kind VARCHAR(16) NOT NULL").
		Column("status VARCHAR(16) NOT NULL").
		Column("latency_ms BIGINT NOT NULL DEFAULT 0").
		Column("status_code INT NULL").
		Column("error_msg VARCHAR(512) NULL").
		Column("response_content TEXT NULL").
		Column("created_at BIGINT NOT NULL").
		Column("FOREIGN KEY (model_id) REFERENCES models(id) ON DELETE CASCADE").
		Index("idx_check_logs_model_time", "model_id, created_at DESC").
		Index("idx_check_logs_time", "created_at")
}

// DefineSchedulerConfigTable 定义scheduler_config表结构：单行配置，
// id固定为'default'。
func DefineSchedulerConfigTable() *TableBuilder {
	return NewTable("scheduler_config").
		Column("id VARCHAR(32) PRIMARY KEY").
		Column("enabled TINYINT NOT NULL DEFAULT 1").
		Column("cron_expression VARCHAR(64) NOT NULL DEFAULT '0 */6 * * *'").
		Column("timezone VARCHAR(64) NOT NULL DEFAULT 'Local'").
		Column("channel_concurrency INT NOT NULL DEFAULT 5").
		Column("max_global_concurrency INT NOT NULL DEFAULT 30").
		Column("min_jitter_ms INT NOT NULL DEFAULT 3000").
		Column("max_jitter_ms INT NOT NULL DEFAULT 5000").
		Column("detect_all_channels TINYINT NOT NULL DEFAULT 1").
		Column("selected_channel_ids TEXT NOT NULL DEFAULT ''").
		Column("selected_model_ids TEXT NOT NULL DEFAULT ''").
		Column("log_retention_days INT NOT NULL DEFAULT 7").
		Column("updated_at BIGINT NOT NULL")
}
