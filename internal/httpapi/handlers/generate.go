package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/mediagen-relay/internal/catalog"
	"github.com/suPer8Hu/mediagen-relay/internal/common"
	"github.com/suPer8Hu/mediagen-relay/internal/models"
	"github.com/suPer8Hu/mediagen-relay/internal/tasks"
)

type textToImageReq struct {
	Prompt        string         `json:"prompt" binding:"required"`
	Model         string         `json:"model"`
	AspectRatio   string         `json:"aspect_ratio"`
	Seed          *int           `json:"seed" binding:"omitempty,gte=1,lte=1000000"`
	GuidanceScale *float64       `json:"guidance_scale" binding:"omitempty,gte=1,lte=20"`
	UseUnlim      *bool          `json:"use_unlim"`
	Resolution    string         `json:"resolution"`
	NumImages     *int           `json:"num_images" binding:"omitempty,gte=1,lte=4"`
	Metadata      map[string]any `json:"metadata"`
}

func (h *Handler) TextToImage(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	var req textToImageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid request: "+err.Error())
		return
	}
	model := orDefault(req.Model, catalog.DefaultImageModel)
	aspect := orDefault(req.AspectRatio, catalog.DefaultAspectRatio)
	resolution := orDefault(req.Resolution, catalog.DefaultImageQuality)
	if msg := oneOf("model", model, catalog.ImageModels); msg != "" {
		common.Fail(c, http.StatusBadRequest, 10004, msg)
		return
	}
	if msg := oneOf("aspect_ratio", aspect, catalog.StandardAspects); msg != "" {
		common.Fail(c, http.StatusBadRequest, 10004, msg)
		return
	}
	if msg := oneOf("resolution", resolution, catalog.ImageResolutions); msg != "" {
		common.Fail(c, http.StatusBadRequest, 10004, msg)
		return
	}

	params := map[string]any{
		"prompt":         req.Prompt,
		"model":          model,
		"aspect_ratio":   aspect,
		"guidance_scale": derefOr(req.GuidanceScale, 7.5),
		"seed":           optional(req.Seed),
		"use_unlim":      derefOr(req.UseUnlim, true),
		"resolution":     resolution,
		"batch_size":     derefOr(req.NumImages, 1),
	}
	h.createTask(c, client, tasks.CreateInput{
		Type:       models.TypeTextToImage,
		Parameters: params,
		Metadata:   req.Metadata,
	}, "Image generation task created successfully")
}

type soulReq struct {
	Prompt           string         `json:"prompt" binding:"required"`
	AspectRatio      string         `json:"aspect_ratio"`
	Style            *string        `json:"style"`
	StyleID          string         `json:"style_id"`
	StyleStrength    *float64       `json:"style_strength" binding:"omitempty,gte=0,lte=1"`
	Resolution       string         `json:"resolution"`
	BatchSize        *int           `json:"batch_size"`
	EnhancePrompt    *bool          `json:"enhance_prompt"`
	NegativePrompt   string         `json:"negative_prompt"`
	Seed             *int           `json:"seed" binding:"omitempty,gte=1,lte=1000000"`
	Steps            *int           `json:"steps" binding:"omitempty,gte=10,lte=100"`
	SampleShift      *float64       `json:"sample_shift" binding:"omitempty,gte=0,lte=10"`
	SampleGuideScale *float64       `json:"sample_guide_scale" binding:"omitempty,gte=0,lte=10"`
	UseUnlim         *bool          `json:"use_unlim"`
	Metadata         map[string]any `json:"metadata"`
}

func (h *Handler) Soul(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	var req soulReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid request: "+err.Error())
		return
	}
	aspect := orDefault(req.AspectRatio, catalog.DefaultAspectRatio)
	resolution := orDefault(req.Resolution, catalog.DefaultSoulQuality)
	batch := derefOr(req.BatchSize, 1)
	if msg := oneOf("aspect_ratio", aspect, catalog.SoulAspects); msg != "" {
		common.Fail(c, http.StatusBadRequest, 10004, msg)
		return
	}
	if msg := oneOf("resolution", resolution, catalog.SoulQualities); msg != "" {
		common.Fail(c, http.StatusBadRequest, 10004, msg)
		return
	}
	if !catalog.Contains(catalog.SoulBatchSizes, batch) {
		common.Fail(c, http.StatusBadRequest, 10004, "batch_size must be 1 or 4")
		return
	}

	style := derefOr(req.Style, catalog.DefaultStyleName)
	styleID, err := h.Catalog.ResolveStyle(style, req.StyleID)
	if errors.Is(err, catalog.ErrStyleUnresolved) {
		common.Fail(c, http.StatusBadRequest, 10005,
			fmt.Sprintf("Could not resolve style '%s'. Use GET /api/generate/styles to see available styles.", style))
		return
	}
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to resolve style")
		return
	}

	params := map[string]any{
		"prompt":             req.Prompt,
		"aspect_ratio":       aspect,
		"style_id":           styleID,
		"style_strength":     derefOr(req.StyleStrength, 1.0),
		"resolution":         resolution,
		"batch_size":         batch,
		"enhance_prompt":     derefOr(req.EnhancePrompt, true),
		"negative_prompt":    req.NegativePrompt,
		"seed":               optional(req.Seed),
		"steps":              derefOr(req.Steps, 50),
		"sample_shift":       derefOr(req.SampleShift, 4.0),
		"sample_guide_scale": derefOr(req.SampleGuideScale, 4.0),
		"use_unlim":          derefOr(req.UseUnlim, true),
	}
	h.createTask(c, client, tasks.CreateInput{
		Type:       models.TypeSoul,
		Parameters: params,
		Metadata:   req.Metadata,
	}, "Soul image generation task created successfully")
}

// ImageToVideo takes a multipart form with the source image under "image".
// The image is stored as <image_dir>/<task_id>.png for the worker to upload.
func (h *Handler) ImageToVideo(c *gin.Context) {
	client, ok := clientFromContext(c)
	if !ok {
		return
	}
	file, err := c.FormFile("image")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10002, "image file is required")
		return
	}

	prompt := c.DefaultPostForm("prompt", catalog.DefaultI2VPrompt)
	motion := c.DefaultPostForm("motion", catalog.DefaultMotion)
	model := c.DefaultPostForm("model", catalog.DefaultVideoModel)
	duration := c.DefaultPostForm("duration", catalog.DefaultDuration)
	for _, chk := range []struct {
		field, value string
		allowed      []string
	}{
		{"motion", motion, catalog.MotionNames()},
		{"model", model, catalog.VideoModels},
		{"duration", duration, catalog.Durations},
	} {
		if msg := oneOf(chk.field, chk.value, chk.allowed); msg != "" {
			common.Fail(c, http.StatusBadRequest, 10004, msg)
			return
		}
	}

	var seed any
	if raw := c.PostForm("seed"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000000 {
			common.Fail(c, http.StatusBadRequest, 10004, "seed must be an integer between 1 and 1000000")
			return
		}
		seed = n
	}
	useUnlim := true
	if raw := c.PostForm("use_unlim"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10004, "use_unlim must be a boolean")
			return
		}
		useUnlim = b
	}
	metadata, err := parseMetadata(c.PostForm("metadata"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10006, "Invalid JSON in metadata parameter")
		return
	}

	taskID := uuid.NewString()
	path := filepath.Join(h.ImageDir, taskID+".png")
	if err := os.MkdirAll(h.ImageDir, 0o750); err != nil {
		h.Log.Error().Err(err).Str("dir", h.ImageDir).Msg("create image dir")
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to store image")
		return
	}
	if err := c.SaveUploadedFile(file, path); err != nil {
		h.Log.Error().Err(err).Str("path", path).Msg("save uploaded image")
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to store image")
		return
	}

	params := map[string]any{
		"prompt":     prompt,
		"motion":     motion,
		"image_path": path,
		"model":      model,
		"duration":   duration,
		"seed":       seed,
		"use_unlim":  useUnlim,
	}
	h.createTask(c, client, tasks.CreateInput{
		TaskID:     taskID,
		Type:       models.TypeImageToVideo,
		Parameters: params,
		Metadata:   metadata,
	}, "Video generation task created successfully")
}

func (h *Handler) ListStyles(c *gin.Context) {
	styles := h.Catalog.Styles()
	common.OK(c, gin.H{"styles": styles, "total": len(styles)})
}

func (h *Handler) ListMotions(c *gin.Context) {
	motions := h.Catalog.Motions()
	common.OK(c, gin.H{"motions": motions, "total": len(motions)})
}

func (h *Handler) createTask(c *gin.Context, client *models.Client, in tasks.CreateInput, message string) {
	in.ClientID = client.ID
	t, err := h.Tasks.Create(c.Request.Context(), in)
	if err != nil {
		h.Log.Error().Err(err).Str("type", in.Type).Str("client", client.Username).Msg("create task")
		common.Fail(c, http.StatusInternalServerError, 50001, "Internal server error")
		return
	}
	common.OK(c, gin.H{
		"request_id": t.TaskID,
		"status":     tasks.PublicStatus(t.Status),
		"status_url": statusURL(t.TaskID),
		"cancel_url": cancelURL(t.TaskID),
		"message":    message,
	})
}

func statusURL(taskID string) string { return "/api/task/" + taskID + "/status" }
func cancelURL(taskID string) string { return "/api/task/" + taskID + "/cancel" }

func parseMetadata(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func oneOf(field, value string, allowed []string) string {
	if catalog.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("Unsupported %s '%s'. Supported values: %s", field, value, strings.Join(allowed, ", "))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func derefOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// optional keeps absent values as JSON null in stored parameters.
func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
