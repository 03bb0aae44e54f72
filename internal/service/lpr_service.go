package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

var ErrPlateNotFound = errors.New("no licence plate recognised in image")
var ErrLPRDisabled = errors.New("plate recognition is not enabled")

// TextDetector is the slice of the Rekognition client LPR needs.
type TextDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Registration plates after spaces, dots and dashes are stripped, e.g.
// KA01AB1234, MH12DE1433, DL3CAB1234.
var plateRegex = regexp.MustCompile(`^[A-Z]{2}[0-9]{1,2}[A-Z]{0,3}[0-9]{4}$`)

type LPRService struct {
	rekognitionClient TextDetector
	logger            *slog.Logger
}

func NewLPRService(rekClient TextDetector, logger *slog.Logger) *LPRService {
	return &LPRService{rekognitionClient: rekClient, logger: logger}
}

func normalizePlate(s string) string {
	s = strings.ToUpper(s)
	return strings.NewReplacer(" ", "", ".", "", "-", "").Replace(s)
}

// RecognizePlate runs text detection on an image and returns the
// highest-confidence line that looks like a registration plate.
func (s *LPRService) RecognizePlate(ctx context.Context, imageBytes []byte) (string, float32, error) {
	if s == nil || s.rekognitionClient == nil {
		return "", 0, ErrLPRDisabled
	}

	result, err := s.rekognitionClient.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: imageBytes},
	})
	if err != nil {
		return "", 0, fmt.Errorf("rekognition DetectText: %w", err)
	}

	var (
		best          string
		maxConfidence float32
		seen          []string
	)
	for _, td := range result.TextDetections {
		if td.DetectedText == nil || td.Confidence == nil {
			continue
		}
		if td.Type != types.TextTypesLine && td.Type != types.TextTypesWord {
			continue
		}
		txt := normalizePlate(*td.DetectedText)
		seen = append(seen, txt)
		if plateRegex.MatchString(txt) && *td.Confidence > maxConfidence {
			best, maxConfidence = txt, *td.Confidence
		}
	}

	if best == "" {
		s.logger.Debug("no plate matched", slog.String("texts", strings.Join(seen, ",")))
		return "", 0, ErrPlateNotFound
	}
	s.logger.Info("plate recognised", slog.String("plate", best), slog.Float64("confidence", float64(maxConfidence)))
	return best, maxConfidence, nil
}
