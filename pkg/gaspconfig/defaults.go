package gaspconfig

func (l *Load) applyDefaults() {
	defaultCfg := DefaultConfig()

	if l.cfg.Address == "" {
		l.cfg.Address = defaultCfg.Address
	}
	if l.cfg.Port == 0 {
		l.cfg.Port = defaultCfg.Port
	}
	if l.cfg.SyncInterval == 0 {
		l.cfg.SyncInterval = defaultCfg.SyncInterval
	}
	if l.cfg.AdminToken == "" {
		l.cfg.AdminToken = defaultCfg.AdminToken
	}
	if l.cfg.EngineConfig.Topic == "" {
		l.cfg.EngineConfig.Topic = defaultCfg.EngineConfig.Topic
	}
	if l.cfg.EngineConfig.Version == 0 {
		l.cfg.EngineConfig.Version = defaultCfg.EngineConfig.Version
	}
	if l.cfg.EngineConfig.Concurrency == 0 {
		l.cfg.EngineConfig.Concurrency = defaultCfg.EngineConfig.Concurrency
	}
	if l.cfg.EngineConfig.LogPrefix == "" {
		l.cfg.EngineConfig.LogPrefix = defaultCfg.EngineConfig.LogPrefix
	}
	if l.cfg.StorageConfig.MaxNodesInGraph == 0 {
		l.cfg.StorageConfig.MaxNodesInGraph = defaultCfg.StorageConfig.MaxNodesInGraph
	}
	if l.cfg.LoggerConfig.Level == "" {
		l.cfg.LoggerConfig.Level = defaultCfg.LoggerConfig.Level
	}
	if l.cfg.LoggerConfig.Format == "" {
		l.cfg.LoggerConfig.Format = defaultCfg.LoggerConfig.Format
	}
}
