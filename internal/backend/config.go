package backend

import (
	"fmt"

	"dailybudget/internal/config"
	"dailybudget/internal/ledger/postgres"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}
	pointerType := PointerType(appConfig.PointerBackend)
	if pointerType == "" {
		pointerType = AutoPointer
	}
	if !pointerType.IsValid() {
		return Config{}, fmt.Errorf("invalid pointer type in config: %s", appConfig.PointerBackend)
	}

	return Config{
		Type:    backendType,
		Pointer: pointerType,

		SQLiteDBPath: appConfig.SQLiteDBPath,

		Postgres: postgres.Config{
			DSN:             appConfig.PostgresDSN,
			MaxOpenConns:    appConfig.PostgresMaxOpenConns,
			MaxIdleConns:    appConfig.PostgresMaxIdleConns,
			ConnMaxLifetime: appConfig.PostgresConnMaxLifetime,
			QueryTimeout:    appConfig.StoreTimeout,
		},

		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
		RedisPrefix:   appConfig.RedisPrefix,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if !c.Pointer.IsValid() {
		return fmt.Errorf("invalid pointer type: %s", c.Pointer)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case PostgresBackend:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("Postgres DSN is required for postgres backend")
		}
	case MemoryBackend:
		// Nothing to check.
	}

	switch c.Pointer.resolve(c.Type) {
	case SQLitePointer:
		if c.Type != SQLiteBackend {
			return fmt.Errorf("sqlite pointer requires the sqlite backend, got %s", c.Type)
		}
	case RedisPointer:
		if c.RedisAddr == "" {
			return fmt.Errorf("Redis address is required for redis pointer")
		}
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SQLiteBackend, PostgresBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
