// Package openww implements [wake.Engine] using the openWakeWord ONNX
// pipeline: melspectrogram → embedding → wakeword, executed through
// onnxruntime.
//
// Each session feeds 80 ms chunks (1280 samples at 16 kHz) through the
// three models. The melspectrogram model turns a chunk into 5 mel frames;
// once 76 mel frames have accumulated, the embedding model produces one
// 96-dimensional embedding; the wakeword model scores a sliding buffer of
// 16 embeddings. Only the most recent embedding slots are passed to the
// scorer — older slots are zero-masked so that long stretches of silence
// cannot accumulate and suppress detection.
//
// All model files plus the ONNX Runtime shared library must be provided at
// construction time.
package openww

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// Pipeline constants fixed by the openWakeWord model architecture.
const (
	modelSampleRate = 16000
	chunkSamples    = 1280 // 80 ms @ 16 kHz
	melBins         = 32   // melspectrogram output bands
	nMelFrames      = 5    // mel frames produced per 1280-sample chunk
	melWindowSize   = 76   // mel frames consumed per embedding
	melStepSize     = 8    // mel frames advanced between embeddings
	embeddingDim    = 96   // embedding vector size
	nEmbedFrames    = 16   // embeddings consumed by the wakeword model

	// recentWindow is how many of the most recent embedding slots are passed
	// to the wakeword model; older slots are zero-masked at scoring time.
	recentWindow = 5

	// scoreWindowSize is the trailing score window; the session triggers on
	// the window maximum to absorb frame-alignment variance of the peak.
	scoreWindowSize = 5
)

// ortInit guards process-wide ONNX Runtime environment initialisation.
// The environment stays alive for the rest of the process; onnxruntime does
// not support re-initialisation after DestroyEnvironment.
var ortInit sync.Once

// Paths names the model files and runtime library for an Engine.
type Paths struct {
	// WakewordModel is the trained wake-phrase model (e.g. "hey_earshot.onnx").
	WakewordModel string

	// MelspecModel is the shared melspectrogram frontend model.
	MelspecModel string

	// EmbeddingModel is the shared speech embedding model.
	EmbeddingModel string

	// OnnxLib is the ONNX Runtime shared library (e.g. "libonnxruntime.so").
	OnnxLib string
}

// Engine creates openWakeWord sessions. Safe for concurrent use.
type Engine struct {
	paths Paths
}

var _ wake.Engine = (*Engine)(nil)

// New validates the model paths and initialises the ONNX Runtime
// environment on first use.
func New(paths Paths) (*Engine, error) {
	if paths.WakewordModel == "" || paths.MelspecModel == "" || paths.EmbeddingModel == "" {
		return nil, errors.New("openww: wakeword, melspec, and embedding model paths are required")
	}

	var initErr error
	ortInit.Do(func() {
		if paths.OnnxLib != "" {
			ort.SetSharedLibraryPath(paths.OnnxLib)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("openww: initialise onnxruntime: %w", initErr)
	}
	return &Engine{paths: paths}, nil
}

// NewSession builds the tensor graph for one audio stream.
func (e *Engine) NewSession(cfg wake.Config) (wake.SessionHandle, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if cfg.SampleRate != modelSampleRate {
		return nil, fmt.Errorf("openww: sample rate %d is unsupported, the model requires %d", cfg.SampleRate, modelSampleRate)
	}

	s := &session{
		cfg:         cfg,
		frameBytes:  audio.Format{SampleRate: cfg.SampleRate, Channels: 1}.FrameBytes(time.Duration(cfg.FrameSizeMs) * time.Millisecond),
		embedBuffer: make([]float32, nEmbedFrames*embeddingDim),
		audioRem:    make([]int16, 0, chunkSamples*2),
		melBuffer:   make([]float32, 0, 2*melWindowSize*melBins),
	}
	if err := s.buildGraph(e.paths); err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

// stage bundles one ONNX model with its bound input/output tensors.
type stage struct {
	sess *ort.AdvancedSession
	in   *ort.Tensor[float32]
	out  *ort.Tensor[float32]
}

func newStage(modelPath string, inShape, outShape ort.Shape) (*stage, error) {
	in, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("openww: input tensor for %s: %w", modelPath, err)
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		in.Destroy()
		return nil, fmt.Errorf("openww: output tensor for %s: %w", modelPath, err)
	}
	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("openww: inspect %s: %w", modelPath, err)
	}
	sess, err := ort.NewAdvancedSession(modelPath,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
	if err != nil {
		in.Destroy()
		out.Destroy()
		return nil, fmt.Errorf("openww: load %s: %w", modelPath, err)
	}
	return &stage{sess: sess, in: in, out: out}, nil
}

func (st *stage) destroy() {
	if st == nil {
		return
	}
	if st.sess != nil {
		st.sess.Destroy()
	}
	if st.in != nil {
		st.in.Destroy()
	}
	if st.out != nil {
		st.out.Destroy()
	}
}

// session runs the three-stage cascade for one audio stream. Not safe for
// concurrent use.
type session struct {
	cfg        wake.Config
	frameBytes int

	melspec  *stage
	embed    *stage
	wakeword *stage

	audioRem    []int16
	melBuffer   []float32
	embedBuffer []float32

	scoreWindow [scoreWindowSize]float32
	scoreIdx    int

	elapsedMs     int
	lastTriggerMs int
	triggeredOnce bool
	closed        bool
}

var _ wake.SessionHandle = (*session)(nil)

func (s *session) buildGraph(p Paths) error {
	var err error
	if s.melspec, err = newStage(p.MelspecModel,
		ort.NewShape(1, chunkSamples),
		ort.NewShape(1, 1, nMelFrames, melBins),
	); err != nil {
		return err
	}
	if s.embed, err = newStage(p.EmbeddingModel,
		ort.NewShape(1, melWindowSize, melBins, 1),
		ort.NewShape(1, 1, 1, embeddingDim),
	); err != nil {
		return err
	}
	if s.wakeword, err = newStage(p.WakewordModel,
		ort.NewShape(1, nEmbedFrames, embeddingDim),
		ort.NewShape(1, 1),
	); err != nil {
		return err
	}
	return nil
}

// ProcessFrame accumulates the frame and scores every complete 80 ms chunk.
// The returned confidence is the trailing-window maximum score.
func (s *session) ProcessFrame(frame []byte) (wake.Detection, error) {
	if s.closed {
		return wake.Detection{}, errors.New("openww: session is closed")
	}
	if len(frame) != s.frameBytes {
		return wake.Detection{}, fmt.Errorf("openww: frame is %d bytes, expected %d", len(frame), s.frameBytes)
	}

	s.audioRem = append(s.audioRem, audio.BytesToInt16(frame)...)
	s.elapsedMs += s.cfg.FrameSizeMs

	for len(s.audioRem) >= chunkSamples {
		chunk := s.audioRem[:chunkSamples]
		n := copy(s.audioRem, s.audioRem[chunkSamples:])
		s.audioRem = s.audioRem[:n]

		if err := s.runChunk(chunk); err != nil {
			return wake.Detection{}, err
		}
	}

	conf := float64(s.maxScore())
	det := wake.Detection{Confidence: conf}
	if conf >= s.cfg.Threshold && s.rearmed() {
		det.Triggered = true
		s.triggeredOnce = true
		s.lastTriggerMs = s.elapsedMs
		// Clear the score window so the same peak cannot re-trigger.
		s.scoreWindow = [scoreWindowSize]float32{}
	}
	return det, nil
}

// runChunk pushes one 1280-sample chunk through the cascade.
func (s *session) runChunk(chunk []int16) error {
	// Stage 1: melspectrogram.
	in := s.melspec.in.GetData()
	for i, v := range chunk {
		in[i] = float32(v)
	}
	if err := s.melspec.sess.Run(); err != nil {
		return fmt.Errorf("openww: melspectrogram inference: %w", err)
	}
	melOut := s.melspec.out.GetData()
	for f := 0; f < nMelFrames; f++ {
		for b := 0; b < melBins; b++ {
			// openWakeWord's documented mel normalisation.
			s.melBuffer = append(s.melBuffer, melOut[f*melBins+b]/10.0+2.0)
		}
	}

	// Stage 2: embeddings over a sliding mel window.
	newEmbed := false
	for len(s.melBuffer)/melBins >= melWindowSize {
		eIn := s.embed.in.GetData()
		copy(eIn, s.melBuffer[:melWindowSize*melBins])
		if err := s.embed.sess.Run(); err != nil {
			return fmt.Errorf("openww: embedding inference: %w", err)
		}
		eOut := s.embed.out.GetData()

		copy(s.embedBuffer, s.embedBuffer[embeddingDim:])
		copy(s.embedBuffer[(nEmbedFrames-1)*embeddingDim:], eOut[:embeddingDim])
		newEmbed = true

		n := copy(s.melBuffer, s.melBuffer[melStepSize*melBins:])
		s.melBuffer = s.melBuffer[:n]
	}
	if !newEmbed {
		return nil
	}

	// Stage 3: wakeword scoring with old embedding slots zero-masked.
	wwIn := s.wakeword.in.GetData()
	padSlots := nEmbedFrames - recentWindow
	for i := 0; i < padSlots*embeddingDim; i++ {
		wwIn[i] = 0
	}
	copy(wwIn[padSlots*embeddingDim:], s.embedBuffer[padSlots*embeddingDim:])
	if err := s.wakeword.sess.Run(); err != nil {
		return fmt.Errorf("openww: wakeword inference: %w", err)
	}

	s.scoreWindow[s.scoreIdx%scoreWindowSize] = s.wakeword.out.GetData()[0]
	s.scoreIdx++
	return nil
}

func (s *session) maxScore() float32 {
	var m float32
	for _, v := range s.scoreWindow {
		if v > m {
			m = v
		}
	}
	return m
}

func (s *session) rearmed() bool {
	if !s.triggeredOnce {
		return true
	}
	return s.elapsedMs-s.lastTriggerMs >= s.cfg.RearmMs
}

// Reset flushes all pipeline buffers and the debounce clock so stale mel
// frames and embeddings do not pollute scoring after re-arm.
func (s *session) Reset() {
	s.audioRem = s.audioRem[:0]
	s.melBuffer = s.melBuffer[:0]
	for i := range s.embedBuffer {
		s.embedBuffer[i] = 0
	}
	s.scoreWindow = [scoreWindowSize]float32{}
	s.scoreIdx = 0
	s.elapsedMs = 0
	s.lastTriggerMs = 0
	s.triggeredOnce = false
}

// Close releases the ONNX sessions and tensors. Safe to call more than once.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.destroy()
	return nil
}

func (s *session) destroy() {
	s.melspec.destroy()
	s.embed.destroy()
	s.wakeword.destroy()
	s.melspec, s.embed, s.wakeword = nil, nil, nil
}
