package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/domain/entity"
	"github.com/modelgate/modelgate/internal/domain/repository"
	"github.com/modelgate/modelgate/internal/infrastructure/persistence/models"
	domainErrors "github.com/modelgate/modelgate/pkg/errors"
)

// GormSessionRepository persists sessions as a header row plus an
// append-only turn log.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates the gorm-backed session repository.
func NewGormSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &GormSessionRepository{
		db: db,
	}
}

// SaveSession upserts the session header row.
func (r *GormSessionRepository) SaveSession(ctx context.Context, session *entity.Session) error {
	model, err := sessionToModel(session)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("save session: " + err.Error())
	}

	return nil
}

// AppendTurn writes one turn row. Turns are never updated in place.
func (r *GormSessionRepository) AppendTurn(ctx context.Context, sessionID string, turn entity.Turn) error {
	model, err := turnToModel(sessionID, turn)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("append turn: " + err.Error())
	}

	return nil
}

// FindByID rehydrates a session with its most recent turns, oldest first.
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	var model models.SessionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainErrors.NewNotFoundError("session not found")
		}
		return nil, domainErrors.NewInternalError("find session: " + err.Error())
	}

	// Newest rows within the in-memory cap, re-sorted oldest first below.
	var turnRows []models.TurnModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", id).
		Order("id desc").
		Limit(entity.MaxSessionTurns).
		Find(&turnRows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("load turns: " + err.Error())
	}

	session := sessionFromModel(&model)
	for i := len(turnRows) - 1; i >= 0; i-- {
		session.History = append(session.History, turnFromModel(&turnRows[i]))
	}

	return session, nil
}

// List returns recent sessions, most recently updated first.
func (r *GormSessionRepository) List(ctx context.Context, limit, offset int) ([]repository.SessionInfo, error) {
	var rows []models.SessionModel
	err := r.db.WithContext(ctx).
		Order("updated_at desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("list sessions: " + err.Error())
	}

	infos := make([]repository.SessionInfo, 0, len(rows))
	for i := range rows {
		turns, err := r.CountTurns(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, repository.SessionInfo{
			ID:        rows[i].ID,
			CreatedAt: rows[i].CreatedAt,
			UpdatedAt: rows[i].UpdatedAt,
			Turns:     turns,
		})
	}

	return infos, nil
}

// CountTurns reports the total persisted turns for a session.
func (r *GormSessionRepository) CountTurns(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.TurnModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, domainErrors.NewInternalError("count turns: " + err.Error())
	}
	return count, nil
}

func sessionToModel(session *entity.Session) (*models.SessionModel, error) {
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, domainErrors.NewInternalError("marshal session metadata: " + err.Error())
	}

	return &models.SessionModel{
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Metadata:  string(metadata),
	}, nil
}

func sessionFromModel(model *models.SessionModel) *entity.Session {
	metadata := make(map[string]any)
	if model.Metadata != "" {
		if err := json.Unmarshal([]byte(model.Metadata), &metadata); err != nil || metadata == nil {
			metadata = make(map[string]any)
		}
	}

	return &entity.Session{
		ID:        model.ID,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
		Metadata:  metadata,
	}
}

func turnToModel(sessionID string, turn entity.Turn) (*models.TurnModel, error) {
	metadata, err := json.Marshal(turn.Metadata)
	if err != nil {
		return nil, domainErrors.NewInternalError("marshal turn metadata: " + err.Error())
	}

	return &models.TurnModel{
		SessionID: sessionID,
		Role:      turn.Role,
		Type:      turn.Type,
		Status:    turn.Status,
		Content:   turn.Content,
		Metadata:  string(metadata),
		CreatedAt: turn.Timestamp,
	}, nil
}

func turnFromModel(model *models.TurnModel) entity.Turn {
	var metadata map[string]any
	if model.Metadata != "" {
		if err := json.Unmarshal([]byte(model.Metadata), &metadata); err != nil {
			metadata = nil
		}
	}

	return entity.Turn{
		Role:      model.Role,
		Type:      model.Type,
		Status:    model.Status,
		Content:   model.Content,
		Metadata:  metadata,
		Timestamp: model.CreatedAt,
	}
}
