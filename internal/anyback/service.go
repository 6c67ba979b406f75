package anyback

import "fmt"

// DefaultWorkers is the number of concurrent snapshot fetches during backup.
const DefaultWorkers = 4

// Settings are the tunables the application resolves from config once and
// hands to the service.
type Settings struct {
	// Version is recorded in manifests as "anyback/<version>".
	Version string
	Workers int
	Limits  ImportLimits
	// SnapshotImport enables the snapshot transport for --objects restores.
	SnapshotImport bool
}

// DefaultSettings returns settings with built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Version:        "dev",
		Workers:        DefaultWorkers,
		Limits:         DefaultImportLimits(),
		SnapshotImport: true,
	}
}

// Service is the orchestration layer that runs backups, restores and
// publishing against a space. The CLI reaches it through the app package.
type Service struct {
	space     SpaceService
	history   History
	vault     Vault
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	settings  Settings
}

// NewService creates a Service. history, vault and encryptor may be nil when
// the caller does not need history listing or publishing.
func NewService(space SpaceService, history History, vault Vault, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, settings Settings) *Service {
	if settings.Workers <= 0 {
		settings.Workers = DefaultWorkers
	}
	if settings.Version == "" {
		settings.Version = "dev"
	}
	return &Service{
		space:     space,
		history:   history,
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		settings:  settings,
	}
}

// Tool is the producer string written into manifests.
func (s *Service) Tool() string {
	return fmt.Sprintf("anyback/%s", s.settings.Version)
}
