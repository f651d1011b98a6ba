package cloudinary

import (
	"context"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/google/uuid"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/config"
	"github.com/rajivgeraev/barterkita-api/internal/logging"
	"github.com/rajivgeraev/barterkita-api/internal/utils"
)

// CloudinaryService выдает подписанные параметры для загрузки изображений напрямую в Cloudinary
type CloudinaryService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	logger     logging.Logger
	now        func() time.Time
}

// UploadParams параметры подписанной загрузки
type UploadParams struct {
	Timestamp    string `json:"timestamp"`
	Signature    string `json:"signature"`
	APIKey       string `json:"api_key"`
	CloudName    string `json:"cloud_name"`
	Folder       string `json:"folder"`
	PublicID     string `json:"public_id"`
	UploadPreset string `json:"upload_preset,omitempty"`
}

// NewCloudinaryService создает новый экземпляр CloudinaryService
func NewCloudinaryService(cfg *config.Config, jwtService *utils.JWTService, logger logging.Logger) *CloudinaryService {
	return &CloudinaryService{
		cfg:        cfg,
		jwtService: jwtService,
		logger:     logger.With("service", "cloudinary"),
		now:        time.Now,
	}
}

// Enabled сообщает, настроен ли Cloudinary
func (s *CloudinaryService) Enabled() bool {
	cc := s.cfg.CloudinaryConfig
	return cc.CloudName != "" && cc.APIKey != "" && cc.APISecret != ""
}

// UploadParams подписывает параметры загрузки для пользователя.
// Изображение сохраняется в папке пользователя с уникальным public_id.
func (s *CloudinaryService) UploadParams(ctx context.Context, userID uuid.UUID) (*UploadParams, error) {
	if !s.Enabled() {
		return nil, apperr.Internal("Загрузка изображений не настроена", nil)
	}
	cc := s.cfg.CloudinaryConfig

	params := UploadParams{
		Timestamp:    strconv.FormatInt(s.now().Unix(), 10),
		APIKey:       cc.APIKey,
		CloudName:    cc.CloudName,
		Folder:       path.Join(cc.UploadFolder, userID.String()),
		PublicID:     uuid.NewString(),
		UploadPreset: cc.UploadPreset,
	}

	values := url.Values{}
	values.Set("timestamp", params.Timestamp)
	values.Set("folder", params.Folder)
	values.Set("public_id", params.PublicID)
	if params.UploadPreset != "" {
		values.Set("upload_preset", params.UploadPreset)
	}

	signature, err := api.SignParameters(values, cc.APISecret)
	if err != nil {
		s.logger.Error(ctx, "не удалось подписать параметры загрузки", "error", err)
		return nil, apperr.Internal("Не удалось подписать параметры загрузки", err)
	}
	params.Signature = signature
	return &params, nil
}
