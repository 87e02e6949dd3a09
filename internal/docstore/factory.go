package docstore

import (
	"fmt"

	"wb-go/internal/config"
	"wb-go/internal/wb"
)

// NewDocStoreFromConfig creates a DocStore implementation based on the
// store config type.
func NewDocStoreFromConfig(cfg config.StoreConfig) (wb.DocStore, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFS(), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
