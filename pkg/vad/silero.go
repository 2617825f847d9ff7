//go:build silero

package vad

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Silero VAD v5 at 16kHz requires exactly 512 samples (32ms) per
// inference call and carries a combined [2, 1, 128] recurrent state.
const (
	sileroWindowSize = 512
	sileroStateSize  = 128
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SileroEngine runs Silero VAD v5 inference via ONNX Runtime. Built
// only with the "silero" tag, mirroring the same opt-in pattern the
// donor plugin uses for its real engine vs. its stub.
type SileroEngine struct {
	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32] // [1, 512]
	stateTensor  *ort.Tensor[float32] // [2, 1, 128]
	srTensor     *ort.Tensor[int64]   // scalar
	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]

	pcmBuf []float32
	last   Result

	ortLibPath string
	threshold  float64
}

// NewSileroEngine loads the ONNX Runtime shared library from
// ortLibPath and the Silero VAD ONNX model from modelPath.
func NewSileroEngine(ortLibPath, modelPath string, threshold float64) (*SileroEngine, error) {
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("silero: read model: %w", err)
	}

	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(ortLibPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSize))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{16000})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &SileroEngine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, sileroWindowSize*2),
		threshold:    threshold,
	}, nil
}

// ProcessChunk buffers the 20ms (320-sample) chunk and runs inference
// whenever a full 512-sample window has accumulated, returning the
// most recent inference result in the meantime so every 20ms chunk
// still gets an answer.
func (e *SileroEngine) ProcessChunk(pcm []byte, sampleRate uint32) (Result, error) {
	if sampleRate != 16000 {
		return Result{}, ErrWrongSampleRate
	}
	samples := pcmToFloat32(pcm)
	e.pcmBuf = append(e.pcmBuf, samples...)

	for len(e.pcmBuf) >= sileroWindowSize {
		prob, err := e.infer(e.pcmBuf[:sileroWindowSize])
		if err != nil {
			return Result{}, err
		}
		e.pcmBuf = e.pcmBuf[sileroWindowSize:]
		e.last = Result{IsSpeech: float64(prob) >= e.threshold, Confidence: prob}
	}
	return e.last, nil
}

func (e *SileroEngine) infer(window []float32) (float32, error) {
	copy(e.inputTensor.GetData(), window)
	if err := e.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	prob := e.outputTensor.GetData()[0]
	copy(e.stateTensor.GetData(), e.stateNTensor.GetData())
	return prob, nil
}

func (e *SileroEngine) Reset() error {
	clearFloat32(e.stateTensor.GetData())
	e.pcmBuf = e.pcmBuf[:0]
	e.last = Result{}
	return nil
}

func (e *SileroEngine) Close() error {
	e.session.Destroy()
	e.inputTensor.Destroy()
	e.stateTensor.Destroy()
	e.srTensor.Destroy()
	e.outputTensor.Destroy()
	e.stateNTensor.Destroy()
	return nil
}

func pcmToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		u := uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		samples[i] = float32(int16(u)) / 32768.0
	}
	return samples
}

func clearFloat32(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
