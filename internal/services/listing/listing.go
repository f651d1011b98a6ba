package listing

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rajivgeraev/barterkita-api/internal/apperr"
	"github.com/rajivgeraev/barterkita-api/internal/models"
)

// AllowedImageTypes MIME типы, которые можно прикрепить к объявлению
var AllowedImageTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp"}

// normalizeInput обрезает пробелы и проверяет обязательные поля
func normalizeInput(in models.ListingInput) (models.ListingInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.SkillNeeded = strings.TrimSpace(in.SkillNeeded)
	in.SkillOffered = strings.TrimSpace(in.SkillOffered)
	in.Location = strings.TrimSpace(in.Location)
	in.Image = strings.TrimSpace(in.Image)

	switch {
	case in.Title == "":
		return in, apperr.Validation("Название обязательно")
	case in.Description == "":
		return in, apperr.Validation("Описание обязательно")
	case in.SkillNeeded == "":
		return in, apperr.Validation("Укажите, какой навык вам нужен")
	case in.SkillOffered == "":
		return in, apperr.Validation("Укажите, какой навык вы предлагаете")
	}
	return in, nil
}

// ValidateImage проверяет data URI изображения: заявленный и фактический
// MIME тип из списка допустимых, размер после декодирования не больше maxBytes.
// Пустая строка означает отсутствие изображения.
func ValidateImage(dataURI string, maxBytes int) error {
	if dataURI == "" {
		return nil
	}

	header, encoded, ok := strings.Cut(dataURI, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return apperr.Validation("Изображение должно быть передано как data URI")
	}
	declared, isBase64 := strings.CutSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if !isBase64 {
		return apperr.Validation("Изображение должно быть закодировано в base64")
	}
	declared = strings.ToLower(declared)
	if !mimetype.EqualsAny(declared, AllowedImageTypes...) {
		return apperr.Validation("Недопустимый формат изображения, разрешены JPEG, PNG, GIF и WebP")
	}

	tooLarge := apperr.Validation("Размер изображения не должен превышать " + formatSize(maxBytes))
	// грубая проверка до декодирования
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxBytes+3 {
		return tooLarge
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return apperr.Validation("Некорректные данные изображения")
	}
	if len(data) > maxBytes {
		return tooLarge
	}

	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), AllowedImageTypes...) {
		return apperr.Validation("Содержимое файла не является допустимым изображением")
	}
	return nil
}

// formatSize записывает размер в МБ или КБ, если он делится нацело
func formatSize(n int) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d МБ", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d КБ", n>>10)
	default:
		return fmt.Sprintf("%d байт", n)
	}
}
