package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log"
	"messenger/apperrors"
	"messenger/db"
	"messenger/models"
	"strings"

	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

// storeError логирует сбой хранилища и возвращает обезличенную ошибку для клиента
func storeError(op string, err error) error {
	log.Printf("ERROR: %s: %v", op, err)
	return apperrors.Unavailable(op, err)
}

type RegisterInput struct {
	Username  string
	Password  string
	Email     *string
	FirstName string
	LastName  string
}

// UserService - справочник пользователей: регистрация, вход, токены, поиск по id/username
type UserService struct{}

func NewUserService() *UserService {
	return &UserService{}
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

func checkPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return subtle.ConstantTimeCompare(hash, expected) == 1
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || len(username) > 100 {
		return nil, apperrors.InvalidInput("username must be 1-100 characters")
	}
	if in.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	passwordHash, err := hashPassword(in.Password)
	if err != nil {
		return nil, storeError("failed to hash password", err)
	}
	user := &models.User{
		Username:  username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  passwordHash,
	}
	if err := db.GetWriteDB(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.ErrUsernameTaken
		}
		return nil, storeError("failed to create user", err)
	}
	return user, nil
}

// Login проверяет пароль и выдает новый токен. Старые токены не удаляются,
// чтобы пользователь мог работать с нескольких устройств.
func (s *UserService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return "", nil, apperrors.ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !checkPassword(user.Password, password) {
		return "", nil, apperrors.ErrInvalidCredentials
	}

	tokenBytes := make([]byte, 32)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", nil, storeError("failed to generate token", err)
	}
	token := hex.EncodeToString(tokenBytes)
	err = db.GetWriteDB(ctx).Create(&models.UserTokens{UserID: user.ID, Token: token}).Error
	if err != nil {
		return "", nil, storeError("failed to save token", err)
	}
	return token, user, nil
}

func (s *UserService) Logout(ctx context.Context, token string) error {
	err := db.GetWriteDB(ctx).Where("token = ?", token).Delete(&models.UserTokens{}).Error
	if err != nil {
		return storeError("failed to delete token", err)
	}
	return nil
}

// ResolveToken возвращает id пользователя по токену
func (s *UserService) ResolveToken(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, apperrors.ErrUnauthenticated
	}
	var stored models.UserTokens
	err := db.GetReadOnlyDB(ctx).Where("token = ?", token).First(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperrors.ErrUnauthenticated
		}
		return 0, storeError("failed to resolve token", err)
	}
	return stored.UserID, nil
}

func (s *UserService) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := db.GetReadOnlyDB(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, storeError("failed to load user", err)
	}
	return &user, nil
}

func (s *UserService) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := db.GetReadOnlyDB(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, storeError("failed to load user", err)
	}
	return &user, nil
}
