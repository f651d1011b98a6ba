package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"golang.org/x/crypto/bcrypt"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/models"
	"github.com/rajivgeraev/barterkita-api/internal/store"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

// Срок действия initData от Telegram
const initDataExpiration = 24 * time.Hour

const minPasswordLength = 6

// AuthService – структура для обработки авторизации и профиля
type AuthService struct {
	cfg        *config.Config
	store      store.Store
	jwtService *utils.JWTService
	logger     logging.Logger
}

// Session выданный токен и пользователь
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Credentials данные для входа по email. Поля профиля используются только при регистрации.
type Credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Skill       string `json:"skill,omitempty"`
	Address     string `json:"address,omitempty"`
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, st store.Store, jwtService *utils.JWTService, logger logging.Logger) *AuthService {
	return &AuthService{
		cfg:        cfg,
		store:      st,
		jwtService: jwtService,
		logger:     logger.With("service", "auth"),
	}
}

// TelegramLogin проверяет initData, находит или создает пользователя и выдает JWT
func (s *AuthService) TelegramLogin(ctx context.Context, rawInitData string) (*Session, error) {
	if s.cfg.TelegramBotToken == "" {
		return nil, apperr.Unauthenticated("Вход через Telegram отключен")
	}

	if err := initdata.Validate(rawInitData, s.cfg.TelegramBotToken, initDataExpiration); err != nil {
		s.logger.Warn(ctx, "недействительные данные Telegram", "error", err)
		return nil, apperr.Unauthenticated("Недействительные данные Telegram")
	}

	data, err := initdata.Parse(rawInitData)
	if err != nil {
		return nil, apperr.Validation("Не удалось разобрать данные Telegram")
	}
	if data.User.ID == 0 {
		return nil, apperr.Validation("В данных Telegram нет пользователя")
	}

	user, err := s.store.Users().GetByTelegramID(ctx, data.User.ID)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.createTelegramUser(ctx, data.User)
	}
	if err != nil {
		return nil, apperr.FromStore(err, "Пользователь не найден")
	}

	return s.session(ctx, user)
}

func (s *AuthService) createTelegramUser(ctx context.Context, tgUser initdata.User) (*models.User, error) {
	name := strings.TrimSpace(strings.TrimSpace(tgUser.FirstName) + " " + strings.TrimSpace(tgUser.LastName))
	if name == "" {
		name = tgUser.Username
	}
	if name == "" {
		name = "Пользователь"
	}
	avatar := tgUser.PhotoURL
	if avatar == "" {
		avatar = utils.InitialAvatar(name)
	}

	telegramID := tgUser.ID
	user := &models.User{DisplayName: name, Avatar: avatar, TelegramID: &telegramID}
	err := s.store.Users().Create(ctx, user)
	if errors.Is(err, store.ErrConflict) {
		// пользователя создал параллельный запрос
		return s.store.Users().GetByTelegramID(ctx, telegramID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "создан пользователь Telegram", "user_id", user.ID, "telegram_id", telegramID)
	return user, nil
}

// Register создает пользователя с email и паролем
func (s *AuthService) Register(ctx context.Context, in Credentials) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperr.Validation("Пароль должен содержать не менее 6 символов")
	}

	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("Не удалось сохранить пароль", err)
	}

	user := &models.User{
		DisplayName:  name,
		Skill:        strings.TrimSpace(in.Skill),
		Address:      strings.TrimSpace(in.Address),
		Email:        email,
		Avatar:       utils.InitialAvatar(name),
		PasswordHash: string(hash),
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.AlreadyExists("Пользователь с таким email уже существует")
		}
		return nil, apperr.FromStore(err, "")
	}

	s.logger.Info(ctx, "зарегистрирован пользователь", "user_id", user.ID)
	return s.session(ctx, user)
}

// Login проверяет email и пароль
func (s *AuthService) Login(ctx context.Context, in Credentials) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthenticated("Неверный email или пароль")
	}
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}

	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		return nil, apperr.Unauthenticated("Неверный email или пароль")
	}

	return s.session(ctx, user)
}

// Profile возвращает профиль пользователя
func (s *AuthService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, apperr.FromStore(err, "Пользователь не найден")
	}
	return user, nil
}

// UpdateProfile обновляет профиль. Пустой аватар заменяется сгенерированным.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, in models.ProfileInput) (*models.User, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return nil, apperr.Validation("Название или имя обязательно")
	}

	user := &models.User{
		ID:          userID,
		DisplayName: name,
		Skill:       strings.TrimSpace(in.Skill),
		Address:     strings.TrimSpace(in.Address),
		Avatar:      strings.TrimSpace(in.Avatar),
	}
	if user.Avatar == "" {
		user.Avatar = utils.InitialAvatar(name)
	}

	// UpdateProfile перечитывает запись целиком, включая email и временные метки
	if err := s.store.Users().UpdateProfile(ctx, user); err != nil {
		return nil, apperr.FromStore(err, "Пользователь не найден")
	}
	return user, nil
}

func (s *AuthService) session(ctx context.Context, user *models.User) (*Session, error) {
	token, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		s.logger.Error(ctx, "не удалось создать JWT", "user_id", user.ID, "error", err)
		return nil, apperr.Internal("Не удалось создать токен", err)
	}
	return &Session{Token: token, User: user}, nil
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", apperr.Validation("Некорректный email")
	}
	return strings.ToLower(addr.Address), nil
}
