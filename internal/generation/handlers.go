package generation

import (
	"context"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/mediagen-relay/internal/catalog"
	"github.com/suPer8Hu/mediagen-relay/internal/gateway"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
)

// Vendor is the part of the gateway the handlers submit through.
type Vendor interface {
	SubmitJob(ctx context.Context, slug string, payload any, acct *models.Account) (*gateway.JobSet, error)
	UploadMedia(ctx context.Context, path string, acct *models.Account) (*gateway.Media, error)
}

// Seeder returns a seed in [1, 1e6].
type Seeder func() int

func RandomSeed() int { return rand.IntN(1_000_000) + 1 }

// NewDefaultRegistry registers a handler for every task type.
func NewDefaultRegistry(v Vendor, cat *catalog.Catalog, log zerolog.Logger) *Registry {
	r := NewRegistry()
	r.Register(models.TypeTextToImage, &TextToImage{Vendor: v, Log: log})
	r.Register(models.TypeSoul, &Soul{Vendor: v, Log: log})
	r.Register(models.TypeImageToVideo, &ImageToVideo{Vendor: v, Catalog: cat, Log: log})
	return r
}

func seedFrom(p Params, seeder Seeder) int {
	if s, ok := p.OptInt("seed"); ok {
		return s
	}
	if seeder == nil {
		seeder = RandomSeed
	}
	return seeder()
}

// ModelSlug turns a model name into its /jobs path segment.
func ModelSlug(model string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(model)), "_", "-")
}

func truncatePrompt(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

type TextToImage struct {
	Vendor Vendor
	Seed   Seeder
	Log    zerolog.Logger
}

func (h *TextToImage) Payload(p Params) (string, map[string]any, error) {
	model := p.String("model", catalog.DefaultImageModel)
	aspect := p.String("aspect_ratio", catalog.DefaultAspectRatio)
	dims, ok := catalog.StandardDimensions(aspect)
	if !ok {
		return "", nil, paramErrorf("Unsupported aspect ratio '%s'. Supported values: %s",
			aspect, strings.Join(catalog.StandardAspects, ", "))
	}
	useUnlim := p.Bool("use_unlim", true)

	params := map[string]any{
		"prompt":         p.String("prompt", ""),
		"aspect_ratio":   aspect,
		"width":          dims.Width,
		"height":         dims.Height,
		"batch_size":     p.Int("batch_size", 1),
		"use_unlim":      useUnlim,
		"resolution":     p.String("resolution", catalog.DefaultImageQuality),
		"input_images":   []any{},
		"enhance_prompt": true,
		"seed":           seedFrom(p, h.Seed),
	}
	return ModelSlug(model), map[string]any{"params": params, "use_unlim": useUnlim}, nil
}

func (h *TextToImage) Submit(ctx context.Context, task *models.Task, acct *models.Account) (string, error) {
	p := Params(task.Parameters)
	slug, payload, err := h.Payload(p)
	if err != nil {
		return "", err
	}
	h.Log.Info().
		Str("task_id", task.TaskID).
		Str("model", slug).
		Str("prompt", truncatePrompt(p.String("prompt", ""))).
		Msg("submitting image job")

	js, err := h.Vendor.SubmitJob(ctx, slug, payload, acct)
	if err != nil {
		return "", &ImageGenerationError{Model: slug, Err: err}
	}
	return js.ID, nil
}

type Soul struct {
	Vendor Vendor
	Seed   Seeder
	Log    zerolog.Logger
}

const soulSlug = "text2image-soul"

func (h *Soul) Payload(p Params) (map[string]any, error) {
	quality := p.String("resolution", catalog.DefaultSoulQuality)
	if !catalog.Contains(catalog.SoulQualities, quality) {
		quality = catalog.DefaultSoulQuality
	}
	aspect := p.String("aspect_ratio", catalog.DefaultAspectRatio)
	dims, ok := catalog.SoulDimensions(quality, aspect)
	if !ok {
		return nil, paramErrorf("Unsupported aspect ratio '%s' for Soul model", aspect)
	}
	useUnlim := p.Bool("use_unlim", true)

	var styleID any
	if s := p.String("style_id", ""); s != "" {
		styleID = s
	}

	params := map[string]any{
		"quality":                   quality,
		"aspect_ratio":              aspect,
		"prompt":                    p.String("prompt", ""),
		"enhance_prompt":            p.Bool("enhance_prompt", true),
		"style_id":                  styleID,
		"fashion_factory_id":        nil,
		"style_strength":            p.Float("style_strength", 1.0),
		"custom_reference_strength": 0.9,
		"seed":                      seedFrom(p, h.Seed),
		"width":                     dims.Width,
		"height":                    dims.Height,
		"steps":                     p.Int("steps", 50),
		"batch_size":                p.Int("batch_size", 1),
		"sample_shift":              p.Float("sample_shift", 4),
		"sample_guide_scale":        p.Float("sample_guide_scale", 4),
		"negative_prompt":           p.String("negative_prompt", ""),
		"version":                   3,
		"use_unlim":                 useUnlim,
	}
	return map[string]any{"params": params, "use_unlim": useUnlim}, nil
}

func (h *Soul) Submit(ctx context.Context, task *models.Task, acct *models.Account) (string, error) {
	payload, err := h.Payload(Params(task.Parameters))
	if err != nil {
		return "", err
	}
	h.Log.Info().Str("task_id", task.TaskID).Msg("submitting soul job")

	js, err := h.Vendor.SubmitJob(ctx, soulSlug, payload, acct)
	if err != nil {
		return "", &ImageGenerationError{Model: "soul", Err: err}
	}
	return js.ID, nil
}

type ImageToVideo struct {
	Vendor  Vendor
	Catalog *catalog.Catalog
	Seed    Seeder
	Log     zerolog.Logger
}

const videoSlug = "image2video"

func (h *ImageToVideo) Submit(ctx context.Context, task *models.Task, acct *models.Account) (string, error) {
	p := Params(task.Parameters)

	motionName := p.String("motion", catalog.DefaultMotion)
	motion, ok := h.Catalog.Motion(motionName)
	if !ok {
		return "", &MotionConfigError{Msg: "Motion ID '" + motionName + "' not found. Available motions: " +
			strings.Join(catalog.MotionNames(), ", ")}
	}
	duration := p.String("duration", catalog.DefaultDuration)
	if n, ok := p.OptInt("duration"); ok {
		duration = strconv.Itoa(n)
	}
	frames, ok := catalog.Frames(duration)
	if !ok {
		return "", &MotionConfigError{Msg: "Invalid frames configuration for duration '" + duration + "'"}
	}

	imagePath := p.String("image_path", "")
	if imagePath == "" {
		return "", paramErrorf("image_path is required")
	}
	media, err := h.Vendor.UploadMedia(ctx, imagePath, acct)
	if err != nil {
		return "", &VideoGenerationError{Step: "upload", Err: err}
	}

	payload := map[string]any{
		"params": map[string]any{
			"prompt":         p.String("prompt", catalog.DefaultI2VPrompt),
			"enhance_prompt": true,
			"model":          p.String("model", catalog.DefaultVideoModel),
			"frames":         frames,
			"input_image": map[string]any{
				"id":   media.ID,
				"url":  media.URL,
				"type": "media_input",
			},
			"motion_id": motion.ID,
			"width":     media.Width,
			"height":    media.Height,
			"seed":      seedFrom(p, h.Seed),
			"steps":     30,
		},
	}
	h.Log.Info().Str("task_id", task.TaskID).Str("motion", motionName).Int("frames", frames).Msg("submitting video job")

	js, err := h.Vendor.SubmitJob(ctx, videoSlug, payload, acct)
	if err != nil {
		return "", &VideoGenerationError{Step: "submit", Err: err}
	}
	return js.ID, nil
}
