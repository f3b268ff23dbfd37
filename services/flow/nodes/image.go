package nodes

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"strings"

	"github.com/veka-server/ClaraVerse-sub006/services/flow"
)

// ImageInputExecutor handles the "imageInput" node type. It returns the
// base64 image stored in the node.
type ImageInputExecutor struct{}

func (e *ImageInputExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	img := ec.ConfigString("image")
	if img == "" {
		return flow.Errorf("no image provided")
	}
	return flow.Ok(img)
}

type generateRequest struct {
	Prompt         string  `json:"prompt"`
	ModelName      string  `json:"model_name"`
	LoraName       string  `json:"lora_name,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           *int    `json:"seed,omitempty"`
}

type generateResponse struct {
	ImageBase64 string         `json:"image_base64"`
	Info        map[string]any `json:"info"`
}

// ImageGenerationExecutor handles the "imageGeneration" node type. It calls
// the diffusion backend, emits progress while waiting, and remembers the
// last image in config.lastImage.
type ImageGenerationExecutor struct {
	client *http.Client
}

func (e *ImageGenerationExecutor) Execute(ctx context.Context, ec *flow.ExecContext) flow.Result {
	prompt := primaryText(ec)
	if prompt == "" {
		prompt = ec.ConfigString("prompt")
	}
	if prompt == "" {
		return flow.Errorf("no prompt provided")
	}

	api := ec.API.Merge(ec.Node.Config)
	if api.ImageURL == "" {
		return flow.Errorf("no image generation endpoint configured")
	}

	cfg := ec.Node.Config
	req := generateRequest{
		Prompt:         prompt,
		ModelName:      ec.ConfigString("model"),
		LoraName:       ec.ConfigString("lora"),
		NegativePrompt: ec.ConfigString("negativePrompt"),
		Steps:          configInt(cfg, "steps", 30),
		GuidanceScale:  7.5,
		Width:          configInt(cfg, "width", 512),
		Height:         configInt(cfg, "height", 512),
	}
	if req.ModelName == "" {
		req.ModelName = "sd1.5"
	}
	if g, ok := configFloat(cfg, "guidanceScale"); ok {
		req.GuidanceScale = g
	}
	if _, ok := cfg["seed"]; ok {
		seed := configInt(cfg, "seed", 0)
		req.Seed = &seed
	}

	ec.Emit(map[string]any{"type": "progress", "progress": 0, "status": "generating"})

	var resp generateResponse
	if err := postJSON(ctx, e.client, strings.TrimRight(api.ImageURL, "/")+"/generate", req, &resp); err != nil {
		ec.Logger.Error("Image generation failed", "model", req.ModelName, "error", err)
		ec.Emit(map[string]any{"type": "error", "message": err.Error()})
		return flow.Errorf("image generation failed: %v", err)
	}
	if resp.ImageBase64 == "" {
		return flow.Errorf("image generation returned no image")
	}

	ec.Config()["lastImage"] = resp.ImageBase64
	ec.Emit(map[string]any{"type": "progress", "progress": 100, "status": "done", "image": resp.ImageBase64})

	return flow.Ok(resp.ImageBase64).WithPort("info", resp.Info)
}

// ImageTransformExecutor handles the "imageTransform" node type.
// config.operation is one of grayscale, invert, flipHorizontal,
// flipVertical or resize (with config.width and config.height).
type ImageTransformExecutor struct{}

func (e *ImageTransformExecutor) Execute(_ context.Context, ec *flow.ExecContext) flow.Result {
	encoded := ec.Inputs.Text(portImageIn, portImage, flow.DefaultPort)
	if encoded == "" {
		return flow.Errorf("no image provided")
	}

	src, format, err := decodeImage(encoded)
	if err != nil {
		return flow.Errorf("decoding image: %v", err)
	}

	var out image.Image
	switch op := ec.ConfigString("operation"); op {
	case "grayscale":
		out = mapPixels(src, func(c color.Color) color.Color {
			g := color.GrayModel.Convert(c).(color.Gray)
			_, _, _, a := c.RGBA()
			return color.NRGBA{R: g.Y, G: g.Y, B: g.Y, A: uint8(a >> 8)}
		})
	case "invert":
		out = mapPixels(src, func(c color.Color) color.Color {
			n := color.NRGBAModel.Convert(c).(color.NRGBA)
			return color.NRGBA{R: 255 - n.R, G: 255 - n.G, B: 255 - n.B, A: n.A}
		})
	case "flipHorizontal":
		out = remap(src, src.Bounds().Dx(), src.Bounds().Dy(), func(x, y int) (int, int) {
			return src.Bounds().Dx() - 1 - x, y
		})
	case "flipVertical":
		out = remap(src, src.Bounds().Dx(), src.Bounds().Dy(), func(x, y int) (int, int) {
			return x, src.Bounds().Dy() - 1 - y
		})
	case "resize":
		w := configInt(ec.Node.Config, "width", 0)
		h := configInt(ec.Node.Config, "height", 0)
		if w <= 0 || h <= 0 {
			return flow.Errorf("resize needs positive width and height")
		}
		if w > maxImageSide || h > maxImageSide {
			return flow.Errorf("resize target %dx%d exceeds %dx%d", w, h, maxImageSide, maxImageSide)
		}
		sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
		out = remap(src, w, h, func(x, y int) (int, int) {
			return x * sw / w, y * sh / h
		})
	default:
		return flow.Errorf("unknown image operation %q", op)
	}

	result, err := encodeImage(out, format)
	if err != nil {
		return flow.Errorf("encoding image: %v", err)
	}
	return flow.Ok(result)
}

// maxImageSide bounds both the decoded source and any resize target, so a
// single transform allocates at most 64 MiB of pixels.
const maxImageSide = 4096

// decodeImage accepts raw base64 or a data URL. The header is checked
// before the pixels are decoded.
func decodeImage(s string) (image.Image, string, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}
	if cfg.Width > maxImageSide || cfg.Height > maxImageSide {
		return nil, "", fmt.Errorf("image %dx%d exceeds %dx%d", cfg.Width, cfg.Height, maxImageSide, maxImageSide)
	}
	return image.Decode(bytes.NewReader(raw))
}

func encodeImage(img image.Image, format string) (string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func mapPixels(src image.Image, f func(color.Color) color.Color) image.Image {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.Set(x, y, f(src.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return dst
}

// remap builds a w×h image whose pixel (x, y) is read from src at at(x, y).
func remap(src image.Image, w, h int, at func(x, y int) (int, int)) image.Image {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := at(x, y)
			dst.Set(x, y, src.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}
