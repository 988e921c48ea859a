package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"gitlab.com/secp/services/syncroom/internal/db"
	"gitlab.com/secp/services/syncroom/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
)

const tokenIssuer = "syncroom"

type Service struct {
	db       *db.DB
	secret   []byte
	tokenTTL time.Duration
}

func NewService(database *db.DB, secret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{db: database, secret: []byte(secret), tokenTTL: tokenTTL}
}

const userColumns = `id, username, email, display_name, avatar_url, is_anonymous, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }, user *models.User) error {
	return row.Scan(
		&user.ID, &user.Username, &user.Email, &user.DisplayName,
		&user.AvatarURL, &user.IsAnonymous, &user.CreatedAt, &user.UpdatedAt,
	)
}

// CreateUser creates a new user with password
func (s *Service) CreateUser(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || len(password) < 8 {
		return nil, ErrInvalidCredentials
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	var taken bool
	err = s.db.SQL.QueryRowContext(ctx,
		s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM users WHERE username = ? OR email = ?)`),
		username, email,
	).Scan(&taken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check existing user")
	}
	if taken {
		return nil, ErrUserExists
	}

	now := time.Now().UTC()
	hash := string(passwordHash)
	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        &email,
		PasswordHash: &hash,
		DisplayName:  username,
		IsAnonymous:  false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.insertUser(ctx, user); err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}

	return user, nil
}

// CreateAnonymousUser creates a guest user that can join rooms without signing up
func (s *Service) CreateAnonymousUser(ctx context.Context, displayName string) (*models.User, error) {
	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, errors.Wrap(err, "failed to generate random username")
	}
	username := "anon_" + base64.RawURLEncoding.EncodeToString(randomBytes)[:10]

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "Guest"
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:          uuid.New(),
		Username:    username,
		DisplayName: displayName,
		IsAnonymous: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.insertUser(ctx, user); err != nil {
		return nil, errors.Wrap(err, "failed to create anonymous user")
	}

	return user, nil
}

func (s *Service) insertUser(ctx context.Context, user *models.User) error {
	query := s.db.Rebind(`
		INSERT INTO users (id, username, email, password_hash, display_name, avatar_url, is_anonymous, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.SQL.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash, user.DisplayName,
		user.AvatarURL, user.IsAnonymous, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// AuthenticateByEmail verifies email/password and returns user
func (s *Service) AuthenticateByEmail(ctx context.Context, email, password string) (*models.User, error) {
	var user models.User
	var passwordHash string

	query := s.db.Rebind(`
		SELECT ` + userColumns + `, password_hash
		FROM users
		WHERE email = ? AND password_hash IS NOT NULL
	`)

	err := s.db.SQL.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&user.ID, &user.Username, &user.Email, &user.DisplayName,
		&user.AvatarURL, &user.IsAnonymous, &user.CreatedAt, &user.UpdatedAt,
		&passwordHash,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User

	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)

	err := scanUser(s.db.SQL.QueryRowContext(ctx, query, userID), &user)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query user")
	}

	return &user, nil
}

// UpdateProfile changes the name and avatar shown to other room members
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, displayName string, avatarURL *string) (*models.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, errors.New("display name required")
	}

	query := s.db.Rebind(`UPDATE users SET display_name = ?, avatar_url = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.SQL.ExecContext(ctx, query, displayName, avatarURL, time.Now().UTC(), userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update profile")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrUserNotFound
	}

	return s.GetUserByID(ctx, userID)
}

// GenerateSessionToken issues a signed session token for userID
func (s *Service) GenerateSessionToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// ValidateSessionToken validates a session token and returns the user ID
func (s *Service) ValidateSessionToken(token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	return userID, nil
}
