package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RxGate/internal/model"
	"RxGate/pkg/crypto"
	dberrors "RxGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Escalation is the GORM model for the escalations table. One row is the
// physician-review package for a workflow that terminated escalated.
type Escalation struct {
	ID             int64     `gorm:"primaryKey;column:id"`
	EscalationID   string    `gorm:"column:escalation_id;type:varchar(36);not null;uniqueIndex"`
	ConversationID string    `gorm:"column:conversation_id;type:varchar(64);not null;index"`
	PatientID      string    `gorm:"column:patient_id;type:varchar(16);index"`
	DrugName       string    `gorm:"column:drug_name;type:varchar(255)"`
	Reason         string    `gorm:"column:reason;type:text"`
	StatePackage   string    `gorm:"column:state_package;type:text"` // full RefillState JSON, AES-GCM encrypted when a key is configured
	Encrypted      bool      `gorm:"column:encrypted;default:false"`
	Status         string    `gorm:"column:status;type:varchar(16);default:'pending'"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (Escalation) TableName() string {
	return "escalations"
}

// EscalationRepo implements biz.EscalationSink by persisting review packages
// to MySQL where the clinical review queue picks them up.
type EscalationRepo struct {
	db     *gorm.DB
	crypto *crypto.AESCrypto
	logger *log.Helper
}

// NewEscalationRepo creates a new escalation repository. crypto may be nil;
// review packages are then stored in the clear.
func NewEscalationRepo(db *gorm.DB, crypto *crypto.AESCrypto, logger log.Logger) *EscalationRepo {
	helper := log.NewHelper(logger)
	if crypto == nil {
		helper.Warn("no state encryption key configured, escalation packages will be stored unencrypted")
	}
	return &EscalationRepo{
		db:     db,
		crypto: crypto,
		logger: helper,
	}
}

// Deliver persists the review package. The full state rides along so
// reviewers see the conversation exactly as the workflow left it.
// Redelivery of the same escalation is treated as success.
func (r *EscalationRepo) Deliver(ctx context.Context, state *model.RefillState) error {
	if state.Escalation == nil {
		return fmt.Errorf("conversation %s has no escalation context", state.ConversationID)
	}

	pkg, encrypted, err := r.encodePackage(state)
	if err != nil {
		return err
	}

	row := &Escalation{
		EscalationID:   state.Escalation.EscalationID,
		ConversationID: state.ConversationID,
		PatientID:      state.Entities.PatientID,
		DrugName:       state.Entities.DrugName,
		Reason:         state.Escalation.Reason,
		StatePackage:   pkg,
		Encrypted:      encrypted,
		Status:         "pending",
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if dberrors.IsDuplicateKeyError(err) {
			r.logger.Infow("msg", "escalation already delivered",
				"escalation_id", state.Escalation.EscalationID)
			return nil
		}
		return fmt.Errorf("persist escalation %s: %w", state.Escalation.EscalationID, err)
	}

	r.logger.Infow("msg", "escalation delivered for review",
		"escalation_id", state.Escalation.EscalationID,
		"conversation_id", state.ConversationID,
		"encrypted", encrypted)
	return nil
}

// encodePackage serializes the state and encrypts it when a key is configured.
func (r *EscalationRepo) encodePackage(state *model.RefillState) (string, bool, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", false, fmt.Errorf("encode escalation package: %w", err)
	}
	if r.crypto == nil {
		return string(raw), false, nil
	}
	sealed, err := r.crypto.Encrypt(string(raw))
	if err != nil {
		return "", false, fmt.Errorf("encrypt escalation package: %w", err)
	}
	return sealed, true, nil
}
