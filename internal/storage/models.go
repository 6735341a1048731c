package storage

import (
	"time"

	"github.com/google/uuid"
)

// DefinitionRecord is one row of device_definitions.
type DefinitionRecord struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Definition []byte    `json:"definition"` // JSONB
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
