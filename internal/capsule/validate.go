package capsule

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"basebox-backend/internal/common"
)

// CreateInput 创建参数，handler 已完成类型转换
type CreateInput struct {
	FID       int64
	Message   string
	Duration  float64
	Image     string
	ImageType string
}

type validated struct {
	fid       int64
	message   string
	duration  float64
	image     string
	imageType string
}

func validateCreate(in CreateInput, cfg common.CapsuleConfig) (*validated, error) {
	if in.FID <= 0 {
		return nil, common.NewInvalid("fid is required")
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, common.NewInvalid("Message is required")
	}
	if utf8.RuneCountInString(message) > cfg.MaxMessageChars {
		return nil, common.NewInvalid(fmt.Sprintf("Message must be at most %d characters", cfg.MaxMessageChars))
	}

	if math.IsNaN(in.Duration) || math.IsInf(in.Duration, 0) || in.Duration <= 0 {
		return nil, common.NewInvalid("Duration must be a positive number of days")
	}
	if cfg.MaxDurationDays > 0 && in.Duration > float64(cfg.MaxDurationDays) {
		return nil, common.NewInvalid(fmt.Sprintf("Duration must be at most %d days", cfg.MaxDurationDays))
	}

	v := &validated{fid: in.FID, message: message, duration: in.Duration}
	if in.Image == "" {
		return v, nil
	}
	payload, imageType, err := validateImage(in.Image, in.ImageType, cfg.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	v.image = payload
	v.imageType = imageType
	return v, nil
}

// validateImage 接受 data URL 或纯 base64，返回纯 base64 与嗅探出的类型
func validateImage(image, imageType string, maxBytes int) (string, string, error) {
	payload := strings.TrimSpace(image)
	declared := strings.ToLower(strings.TrimSpace(imageType))

	if strings.HasPrefix(payload, "data:") {
		comma := strings.Index(payload, ",")
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return "", "", common.NewInvalid("Image must be base64 encoded")
		}
		if declared == "" {
			declared = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(payload[:comma], "data:"), ";base64"))
		}
		payload = payload[comma+1:]
	}

	if declared == "" {
		return "", "", common.NewInvalid("Image type is required")
	}
	if !strings.HasPrefix(declared, "image/") {
		return "", "", common.NewInvalid("Image type must be an image")
	}

	if EstimateDecodedSize(payload) > maxBytes {
		return "", "", common.NewInvalid(fmt.Sprintf("Image must be %dMB or smaller", maxBytes/(1024*1024)))
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return "", "", common.NewInvalid("Image must be base64 encoded")
	}
	if len(data) == 0 {
		return "", "", common.NewInvalid("Image is empty")
	}

	sniffed := mimetype.Detect(data)
	if !strings.HasPrefix(sniffed.String(), "image/") {
		return "", "", common.NewInvalid("Image content is not a supported image")
	}
	return base64.StdEncoding.EncodeToString(data), sniffed.String(), nil
}

// EstimateDecodedSize base64 解码后的字节数
func EstimateDecodedSize(payload string) int {
	n := len(payload)
	padding := 0
	if strings.HasSuffix(payload, "==") {
		padding = 2
	} else if strings.HasSuffix(payload, "=") {
		padding = 1
	}
	return n*3/4 - padding
}

func decodeBase64(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(payload)
}

// DecodeImage 读取已存储的图片
func DecodeImage(c *Capsule) ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Image)
}
