package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/guildworks/guildpass-backend/pkg/enums"
)

// OperationLogEntry is the append-only audit record. Every state-mutating
// operation writes exactly one row.
type OperationLogEntry struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Operator  string                `gorm:"column:operator;not null"`
	Target    string                `gorm:"column:target;not null;index"`
	Action    enums.OperationAction `gorm:"column:action;type:operation_action;not null"`
	Details   string                `gorm:"column:details;type:text;not null;default:''"`
	Metadata  json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// TableName keeps the audit table name explicit.
func (OperationLogEntry) TableName() string {
	return "operation_log"
}
