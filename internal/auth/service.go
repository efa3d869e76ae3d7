package auth

import (
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	errors "github.com/credmart/credmart/internal"
	userDatamodel "github.com/credmart/credmart/internal/core/datamodel/user"
)

type UserRepository interface {
	GetByEmail(email string) (*userDatamodel.User, error)
	GetByID(id int64) (*userDatamodel.User, error)
	Create(u *userDatamodel.User) error
}

type ServiceAPI interface {
	Register(req *RegisterRequest) (*UserResponse, error)
	Authenticate(req *LoginRequest) (AuthTokens, error)
	RefreshTokens(refreshToken string) (AuthTokens, error)
	ValidateAccessToken(token string) (*Claims, error)
	GetUser(id int64) (*UserResponse, error)
}

type Service struct {
	userRepo       UserRepository
	tokenGenerator TokenGenerator
	bcryptCost     int
	logger         *slog.Logger
}

func NewService(userRepo UserRepository, tokenGen TokenGenerator, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo:       userRepo,
		tokenGenerator: tokenGen,
		bcryptCost:     bcryptCost,
		logger:         logger,
	}
}

func (s *Service) Register(req *RegisterRequest) (*UserResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.userRepo.GetByEmail(req.Email)
	if err != nil {
		return nil, errors.NewInternalError("failed to check existing user", err)
	}
	if existing != nil {
		return nil, errors.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, errors.NewInternalError("failed to hash password", err)
	}

	u := &userDatamodel.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.userRepo.Create(u); err != nil {
		return nil, errors.NewInternalError("failed to create user", err)
	}

	s.logger.Info("user registered", "user_id", u.ID, "email", u.Email)
	return toUserResponse(u), nil
}

func (s *Service) Authenticate(req *LoginRequest) (AuthTokens, error) {
	if err := req.Validate(); err != nil {
		return AuthTokens{}, err
	}

	u, err := s.userRepo.GetByEmail(req.Email)
	if err != nil || u == nil || !u.IsActive {
		return AuthTokens{}, errors.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return AuthTokens{}, errors.ErrInvalidCredentials
	}

	return s.issueTokens(u)
}

func (s *Service) RefreshTokens(refreshToken string) (AuthTokens, error) {
	claims, err := s.tokenGenerator.ValidateRefreshToken(refreshToken)
	if err != nil {
		return AuthTokens{}, err
	}

	// Re-read the user so a deactivation or admin change takes effect on the
	// next refresh.
	u, err := s.userRepo.GetByID(claims.UserID)
	if err != nil || u == nil || !u.IsActive {
		return AuthTokens{}, errors.ErrInvalidToken
	}

	return s.issueTokens(u)
}

func (s *Service) issueTokens(u *userDatamodel.User) (AuthTokens, error) {
	claims := Claims{UserID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin}

	accessToken, err := s.tokenGenerator.GenerateAccessToken(claims)
	if err != nil {
		return AuthTokens{}, errors.NewInternalError("failed to generate access token", err)
	}
	refreshToken, err := s.tokenGenerator.GenerateRefreshToken(claims)
	if err != nil {
		return AuthTokens{}, errors.NewInternalError("failed to generate refresh token", err)
	}
	return AuthTokens{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *Service) ValidateAccessToken(token string) (*Claims, error) {
	return s.tokenGenerator.ValidateAccessToken(token)
}

func (s *Service) GetUser(id int64) (*UserResponse, error) {
	u, err := s.userRepo.GetByID(id)
	if err != nil {
		return nil, errors.NewInternalError("failed to load user", err)
	}
	if u == nil {
		return nil, errors.NewNotFoundError("user not found", errors.ErrCodeInvalidCredentials)
	}
	return toUserResponse(u), nil
}

func toUserResponse(u *userDatamodel.User) *UserResponse {
	return &UserResponse{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.Name,
		IsAdmin: u.IsAdmin,
	}
}
