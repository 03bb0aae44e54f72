package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"parking_reservation/internal/domain"
	"parking_reservation/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")
var ErrUserAlreadyExists = errors.New("email is already registered")
var ErrTokenInvalid = errors.New("token is invalid or expired")

type AuthService struct {
	userRepo           repository.UserRepository
	jwtSecret          string
	jwtExpirationHours time.Duration
	clock              Clock
	logger             *slog.Logger
}

func NewAuthService(userRepo repository.UserRepository, jwtSecret string, jwtExpHours time.Duration, clock Clock, logger *slog.Logger) *AuthService {
	return &AuthService{
		userRepo:           userRepo,
		jwtSecret:          jwtSecret,
		jwtExpirationHours: jwtExpHours,
		clock:              clock,
		logger:             logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, dto domain.RegisterUserDTO) (*domain.User, error) {
	return s.createUser(ctx, dto, domain.RoleUser)
}

func (s *AuthService) createUser(ctx context.Context, dto domain.RegisterUserDTO, role string) (*domain.User, error) {
	email := normalizeEmail(dto.Email)
	existingUser, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("checking existing user: %w", err)
	}
	if existingUser != nil {
		return nil, ErrUserAlreadyExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &domain.User{
		Name:       strings.TrimSpace(dto.Name),
		Email:      email,
		Address:    strings.TrimSpace(dto.Address),
		PostalCode: strings.TrimSpace(dto.PostalCode),
		Password:   string(hashedPassword),
		Role:       role,
	}

	createdUser, err := s.userRepo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	createdUser.Password = ""
	return createdUser, nil
}

func (s *AuthService) Login(ctx context.Context, dto domain.LoginUserDTO) (*domain.AuthResponseDTO, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(dto.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(dto.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.clock.Now()
	customClaims := jwt.MapClaims{
		"sub":   strconv.Itoa(user.ID),
		"exp":   now.Add(s.jwtExpirationHours).Unix(),
		"iat":   now.Unix(),
		"role":  user.Role,
		"email": user.Email,
		"name":  user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, customClaims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &domain.AuthResponseDTO{
		Token:  tokenString,
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
	}, nil
}

// ValidateToken is used by the auth middleware.
func (s *AuthService) ValidateToken(tokenString string) (*jwt.Token, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, nil, fmt.Errorf("%w: malformed token", ErrTokenInvalid)
		} else if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, fmt.Errorf("%w: token expired", ErrTokenInvalid)
		} else if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, nil, fmt.Errorf("%w: token not valid yet", ErrTokenInvalid)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if !token.Valid {
		return nil, nil, ErrTokenInvalid
	}
	return token, claims, nil
}

// EnsureAdmin creates the bootstrap administrator when no account holds the
// email yet, and promotes an existing one otherwise.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.IsAdmin() {
			return nil
		}
		existing.Role = domain.RoleAdmin
		if _, err := s.userRepo.Update(ctx, existing); err != nil {
			return fmt.Errorf("promoting admin: %w", err)
		}
		s.logger.Info("existing user promoted to admin", slog.Int("user_id", existing.ID))
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("looking up admin: %w", err)
	}

	admin, err := s.createUser(ctx, domain.RegisterUserDTO{Name: "Administrator", Email: email, Password: password}, domain.RoleAdmin)
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", slog.Int("user_id", admin.ID))
	return nil
}
