package gateway

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/daulet/tokenizers"
	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	textSeqLen = 77
	imageSize  = 224
)

// CLIP normalization constants.
var (
	pixelMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	pixelStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// OnnxGateway runs a CLIP-style model pair (text encoder + image encoder)
// through onnxruntime. Sessions and tensors are allocated once; a mutex
// serializes inference because the tensors are reused between calls.
type OnnxGateway struct {
	mu   sync.Mutex
	once sync.Once
	dims int

	tokenizer *tokenizers.Tokenizer

	textSession *ort.AdvancedSession
	inputIDs    *ort.Tensor[int64]
	textMask    *ort.Tensor[int64]
	textOutput  *ort.Tensor[float32]

	imageSession *ort.AdvancedSession
	pixelValues  *ort.Tensor[float32]
	imageOutput  *ort.Tensor[float32]

	closed bool
}

type OnnxConfig struct {
	TextModelPath  string
	ImageModelPath string
	TokenizerPath  string
	LibraryPath    string
	Dimensions     int
}

func NewOnnxGateway(cfg OnnxConfig) (*OnnxGateway, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 512
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx: %w", err)
	}

	tk, err := tokenizers.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	g := &OnnxGateway{dims: cfg.Dimensions, tokenizer: tk}

	g.inputIDs, err = ort.NewTensor(ort.NewShape(1, textSeqLen), make([]int64, textSeqLen))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	g.textMask, err = ort.NewTensor(ort.NewShape(1, textSeqLen), make([]int64, textSeqLen))
	if err != nil {
		return nil, fmt.Errorf("create attention tensor: %w", err)
	}
	g.textOutput, err = ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), make([]float32, cfg.Dimensions))
	if err != nil {
		return nil, fmt.Errorf("create text output tensor: %w", err)
	}

	g.textSession, err = ort.NewAdvancedSession(
		cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{g.inputIDs, g.textMask},
		[]ort.ArbitraryTensor{g.textOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create text session: %w", err)
	}

	g.pixelValues, err = ort.NewTensor(
		ort.NewShape(1, 3, imageSize, imageSize),
		make([]float32, 3*imageSize*imageSize))
	if err != nil {
		return nil, fmt.Errorf("create pixel tensor: %w", err)
	}
	g.imageOutput, err = ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), make([]float32, cfg.Dimensions))
	if err != nil {
		return nil, fmt.Errorf("create image output tensor: %w", err)
	}

	g.imageSession, err = ort.NewAdvancedSession(
		cfg.ImageModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{g.pixelValues},
		[]ort.ArbitraryTensor{g.imageOutput},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create image session: %w", err)
	}

	return g, nil
}

func (g *OnnxGateway) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrInvalidInput
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, _ := g.tokenizer.Encode(text, true)

	inputIDs := g.inputIDs.GetData()
	mask := g.textMask.GetData()
	for i := range inputIDs {
		inputIDs[i] = 0
		mask[i] = 0
	}
	for i := 0; i < len(ids) && i < textSeqLen; i++ {
		inputIDs[i] = int64(ids[i])
		mask[i] = 1
	}

	if err := g.textSession.Run(); err != nil {
		return nil, fmt.Errorf("text inference: %w", err)
	}

	embedding := make([]float32, g.dims)
	copy(embedding, g.textOutput.GetData())
	normalize(embedding)
	return embedding, nil
}

func (g *OnnxGateway) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrInvalidInput
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resized := imaging.Fill(img, imageSize, imageSize, imaging.Center, imaging.Lanczos)

	pixels := g.pixelValues.GetData()
	for y := 0; y < imageSize; y++ {
		for x := 0; x < imageSize; x++ {
			r, gr, b, _ := resized.At(x, y).RGBA()
			vals := [3]float32{
				float32(r) / 65535.0,
				float32(gr) / 65535.0,
				float32(b) / 65535.0,
			}
			for c := 0; c < 3; c++ {
				pixels[c*imageSize*imageSize+y*imageSize+x] = (vals[c] - pixelMean[c]) / pixelStd[c]
			}
		}
	}

	if err := g.imageSession.Run(); err != nil {
		return nil, fmt.Errorf("image inference: %w", err)
	}

	embedding := make([]float32, g.dims)
	copy(embedding, g.imageOutput.GetData())
	normalize(embedding)
	return embedding, nil
}

func (g *OnnxGateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed
}

func (g *OnnxGateway) Dimensions() int { return g.dims }

func (g *OnnxGateway) Close() {
	g.once.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		g.textSession.Destroy()
		g.imageSession.Destroy()
		g.inputIDs.Destroy()
		g.textMask.Destroy()
		g.textOutput.Destroy()
		g.pixelValues.Destroy()
		g.imageOutput.Destroy()
		g.tokenizer.Close()
		ort.DestroyEnvironment()
	})
}

func normalize(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

var _ ModelGateway = (*OnnxGateway)(nil)
