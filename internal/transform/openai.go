package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mydraws-credits-go/internal/models"

	"github.com/disintegration/imaging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const (
	DefaultPrompt = "Turn this photo into a clean black and white line drawing suitable for a colouring book. " +
		"Use bold outlines, no shading, no grey fills and a plain white background."
	uploadJPEGQuality = 70
	defaultTimeout    = 120 * time.Second
)

// OpenAITransformer calls the image-edit endpoint with a fixed prompt.
type OpenAITransformer struct {
	client  openai.Client
	model   string
	prompt  string
	timeout time.Duration
}

func NewOpenAITransformer(cfg models.OpenAIConfig, httpClient *http.Client) (*OpenAITransformer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key cannot be empty")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	t := &OpenAITransformer{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		prompt:  cfg.Prompt,
		timeout: cfg.Timeout,
	}
	if t.model == "" {
		t.model = string(openai.ImageModelGPTImage1)
	}
	if t.prompt == "" {
		t.prompt = DefaultPrompt
	}
	if t.timeout <= 0 {
		t.timeout = defaultTimeout
	}
	return t, nil
}

func (t *OpenAITransformer) Transform(ctx context.Context, input []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return nil, newError(KindDecode, err)
	}
	var upload bytes.Buffer
	if err := imaging.Encode(&upload, img, imaging.JPEG, imaging.JPEGQuality(uploadJPEGQuality)); err != nil {
		return nil, newError(KindEncode, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.client.Images.Edit(ctx, openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(upload.Bytes()), "input.jpg", "image/jpeg"),
		},
		Prompt:       t.prompt,
		Model:        openai.ImageModel(t.model),
		Size:         openai.ImageEditParamsSize1024x1024,
		Quality:      openai.ImageEditParamsQualityLow,
		OutputFormat: openai.ImageEditParamsOutputFormatJPEG,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindTimeout, err)
		}
		return nil, newError(KindUpstream, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, newError(KindUpstream, fmt.Errorf("image edit returned no image"))
	}

	out, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, newError(KindUpstream, fmt.Errorf("invalid base64 image: %w", err))
	}

	zap.L().Info("Generative transform completed",
		zap.String("model", t.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("bytes", len(out)))
	return out, nil
}
