// Package catalog holds the static generation tables: pixel dimensions per
// aspect ratio, motion presets, video frame counts and Soul style presets.
// A Catalog is built once at startup and is read-only afterwards.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

type Dimensions struct {
	Width  int
	Height int
}

type Style struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PreviewURL  string `json:"preview_url"`
}

type Motion struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	PreviewURL string `json:"preview_url"`
}

const (
	DefaultImageModel   = "nano-banana-2"
	DefaultVideoModel   = "lite"
	DefaultMotion       = "GENERAL"
	DefaultDuration     = "3"
	DefaultSoulQuality  = "720p"
	DefaultStyleName    = "general"
	DefaultAspectRatio  = "4:3"
	DefaultI2VPrompt    = "A cinematic push-in shot"
	DefaultImageQuality = "2k"
)

var standard = map[string]Dimensions{
	"1:1":  {1024, 1024},
	"3:4":  {896, 1152},
	"4:3":  {1152, 896},
	"16:9": {1344, 768},
	"9:16": {768, 1344},
}

var soul = map[string]map[string]Dimensions{
	"720p": {
		"1:1":  {1152, 1152},
		"3:4":  {1152, 1536},
		"4:3":  {1536, 1152},
		"2:3":  {1024, 1536},
		"3:2":  {1536, 1024},
		"16:9": {1536, 864},
		"9:16": {864, 1536},
	},
	"1080p": {
		"1:1":  {1536, 1536},
		"3:4":  {1536, 2048},
		"4:3":  {2048, 1536},
		"2:3":  {1365, 2048},
		"3:2":  {2048, 1365},
		"16:9": {2048, 1152},
		"9:16": {1152, 2048},
	},
}

const previewHost = "https://d1xarpci4ikg0w.cloudfront.net/"

var motions = []Motion{
	{"GENERAL", "d2389a9a-91c2-4276-bc9c-c9e35e8fb85a", previewHost + "411820b9-2387-4958-99cc-699c757fcf9c.webp"},
	{"DISINTEGRATION", "4e981984-1cdc-4b96-a2b1-1a7c1ecb822d", previewHost + "634ede39-bc1f-4635-b4bc-eee2d87a4735.webp"},
	{"EARTH_ZOOM_OUT", "70e490b9-26b7-4572-8d9c-2ac8dcc9adc0", previewHost + "60fe4cdc-9baf-4616-a86c-0b0a51b012d8.webp"},
	{"EYES_IN", "0ab33462-481e-4c78-8ffc-086bebd84187", previewHost + "1493b264-13b4-41e8-906c-b6405f9c1f0d.webp"},
	{"FACE_PUNCH", "cd5bfd11-5a1a-46e0-9294-b22b0b733b1e", previewHost + "4c75250f-a508-4d36-b092-25cc0837f127.webp"},
	{"ARC_RIGHT", "0bdbf318-f918-4f9b-829a-74cab681d806", previewHost + "f97e1093-b61a-4bbd-abed-4318fc1249e8.webp"},
	{"HANDHELD", "36e6e450-52d9-484f-bfbe-f069e06a1530", previewHost + "2785cca1-c4bc-498f-bdd9-ce0012e8477b.webp"},
	{"BUILDING_EXPLOSION", "e974bca9-c9eb-4cc8-9318-5676cc110f17", previewHost + "51d42294-6d2f-4e0c-8448-c3b8d4114292.webp"},
	{"STATIC", "aab8440c-0d65-4554-b88a-7a9a5e084b6e", previewHost + "b9ee21e0-fa8a-4874-be6d-00f9763a9920.webp"},
	{"TURNING_METAL", "46e23a6b-1047-40f1-9cf5-33f5f55ddf2e", previewHost + "d44a136d-8b78-49c8-bf3d-889e5f30c547.webp"},
	{"3D_ROTATION", "6f06f47e-922e-4660-9fe9-754e4be69696", previewHost + "96ccaa14-59c4-49df-a91d-aa898794b32d.webp"},
	{"SNORRICAM", "893cb65f-c528-40aa-83d8-c5aeb2bfe59f", previewHost + "11c848b3-c8dd-456f-a6dd-8c17e35eb7d0.webp"},
}

var frames = map[string]int{"3": 49, "5": 81}

// ImageModels are the accepted text-to-image model slugs.
var ImageModels = []string{
	"nano-banana-2", "flux-2", "seedream", "text2image", "text2image-gpt",
	"flux-kontext", "canvas", "canvas-soul", "wan2-2-image", "nano-banana",
	"nano-banana-animal", "keyframes-faceswap", "qwen-camera-control",
	"viral-transform-image", "game-dump", "reve",
}

var (
	VideoModels        = []string{"lite", "standard", "turbo"}
	Durations          = []string{"3", "5"}
	ImageResolutions   = []string{"1k", "2k"}
	SoulQualities      = []string{"720p", "1080p"}
	StandardAspects    = []string{"1:1", "3:4", "4:3", "16:9", "9:16"}
	SoulAspects        = []string{"1:1", "3:4", "4:3", "2:3", "3:2", "16:9", "9:16"}
	SoulBatchSizes     = []int{1, 4}
	ErrStyleUnresolved = errors.New("style could not be resolved")
)

type Catalog struct {
	styles  []Style
	motions map[string]Motion
}

// New builds a catalog around the given styles. The slice is copied.
func New(styles []Style) *Catalog {
	c := &Catalog{
		styles:  append([]Style(nil), styles...),
		motions: make(map[string]Motion, len(motions)),
	}
	for _, m := range motions {
		c.motions[m.Name] = m
	}
	return c
}

// Load reads the style presets from path. A missing file yields a catalog
// with no styles.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(nil), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read styles: %w", err)
	}
	var styles []Style
	if err := json.Unmarshal(raw, &styles); err != nil {
		return nil, fmt.Errorf("parse styles %s: %w", path, err)
	}
	return New(styles), nil
}

func (c *Catalog) Styles() []Style {
	return append([]Style(nil), c.styles...)
}

func normalizeStyle(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(" ", "_", "-", "_", "'", "").Replace(s)
	return s
}

// ResolveStyle turns a style name or id into a style id. An explicit id wins.
// Unknown names fall back to the General preset.
func (c *Catalog) ResolveStyle(name, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if name == "" {
		return "", ErrStyleUnresolved
	}
	key := normalizeStyle(name)
	for _, s := range c.styles {
		if normalizeStyle(s.Name) == key || strings.EqualFold(s.Name, name) || s.ID == name {
			return s.ID, nil
		}
	}
	for _, s := range c.styles {
		if strings.EqualFold(s.Name, DefaultStyleName) {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrStyleUnresolved, name)
}

func (c *Catalog) Motion(name string) (Motion, bool) {
	m, ok := c.motions[name]
	return m, ok
}

// Motions lists presets sorted by name.
func (c *Catalog) Motions() []Motion {
	out := make([]Motion, 0, len(c.motions))
	for _, m := range c.motions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func MotionNames() []string {
	names := make([]string, len(motions))
	for i, m := range motions {
		names[i] = m.Name
	}
	return names
}

func StandardDimensions(aspect string) (Dimensions, bool) {
	d, ok := standard[aspect]
	return d, ok
}

// SoulDimensions looks up the Soul table. Unknown qualities use 720p.
func SoulDimensions(quality, aspect string) (Dimensions, bool) {
	table, ok := soul[quality]
	if !ok {
		table = soul[DefaultSoulQuality]
	}
	d, ok := table[aspect]
	return d, ok
}

// Frames maps a video duration in seconds to the vendor frame count.
func Frames(duration string) (int, bool) {
	n, ok := frames[duration]
	return n, ok
}

func Contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
