package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"gamiai/internal/models"
	"gamiai/internal/profiles"
	"gamiai/internal/storage"
)

var (
	ErrThreadRequired  = errors.New("thread_id is required")
	ErrEmptyContent    = errors.New("message content cannot be empty")
	ErrProfileNotFound = errors.New("profile not found")
)

// Store mirrors conversation turns into the relational database.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates both tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return storage.Migrate(ctx, s.db)
}

// EnsureDefaultProfiles inserts any seed whose name is not yet present.
// Existing rows are left untouched, including their description.
func (s *Store) EnsureDefaultProfiles(ctx context.Context, seeds []profiles.Seed) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			existing, err := findProfile(tx, seed.Name)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			desc := seed.Description
			row := models.Profile{Name: seed.Name, Description: &desc}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert profile %s: %w", seed.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ensure default profiles: %w", err)
	}
	return nil
}

// AppendTurn stores the user message and the assistant reply as one unit.
// A profile name with no matching row is stored with a nil profile reference.
// A zero at stamps the rows with the current time.
func (s *Store) AppendTurn(ctx context.Context, threadID, profileName, userText, assistantText string, at time.Time) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrThreadRequired
	}
	if userText == "" || assistantText == "" {
		return ErrEmptyContent
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profileID *int64
		profile, err := findProfile(tx, profileName)
		if err != nil {
			return err
		}
		if profile != nil {
			id := profile.ID
			profileID = &id
		}

		if at.IsZero() {
			at = time.Now().UTC()
		}
		turn := []models.Message{
			{ThreadID: threadID, ProfileID: profileID, Role: models.RoleUser, Content: userText, CreatedAt: at},
			{ThreadID: threadID, ProfileID: profileID, Role: models.RoleAssistant, Content: assistantText, CreatedAt: at},
		}
		for i := range turn {
			if !turn[i].Role.Valid() {
				return fmt.Errorf("role %q cannot be stored", turn[i].Role)
			}
			if err := tx.Create(&turn[i]).Error; err != nil {
				return fmt.Errorf("insert %s message: %w", turn[i].Role, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// ListThreadMessages returns a thread's messages in insertion order.
func (s *Store) ListThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrThreadRequired
	}
	var messages []models.Message
	if err := s.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// GetProfile looks a profile up by exact name.
func (s *Store) GetProfile(ctx context.Context, name string) (*models.Profile, error) {
	p, err := findProfile(s.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

// ListProfiles returns all stored profiles ordered by id.
func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	var rows []models.Profile
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return rows, nil
}

// findProfile matches name exactly; the comparison is repeated in Go because
// some collations compare case-insensitively.
func findProfile(tx *gorm.DB, name string) (*models.Profile, error) {
	if name == "" {
		return nil, nil
	}
	var rows []models.Profile
	if err := tx.Where("name = ?", name).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find profile %s: %w", name, err)
	}
	for i := range rows {
		if rows[i].Name == name {
			return &rows[i], nil
		}
	}
	return nil, nil
}
