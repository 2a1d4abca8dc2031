package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	SkillLevelBeginner     = "Beginner"
	SkillLevelIntermediate = "Intermediate"
	SkillLevelAdvanced     = "Advanced"
)

type Account struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	SkillLevel   string    `json:"skillLevel"`
	ProfileImage string    `json:"profileImage"`
}
