package utils

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"effnet/nn/layers"
	"effnet/tensor"
)

// CheckpointFormat identifies the checkpoint layout written by SaveWeights.
const CheckpointFormat = "effnet-checkpoint/1"

// WeightData represents one serialized parameter or buffer. Data holds the
// little-endian float64 values, base64 encoded.
type WeightData struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

// ModelWeights represents all weights in a model
type ModelWeights struct {
	Version    string        `json:"version"`
	Model      string        `json:"model"`
	NumClasses int           `json:"num_classes"`
	Epoch      int           `json:"epoch"`
	Params     []*WeightData `json:"params"`
}

// SaveWeights saves model weights to a JSON file. The file is written to a
// temporary name first and renamed into place.
func SaveWeights(path string, weights *ModelWeights) error {
	data, err := json.MarshalIndent(weights, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write weights: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadWeights loads model weights from a JSON file
func LoadWeights(path string) (*ModelWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var weights ModelWeights
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	if weights.Version != CheckpointFormat {
		return nil, fmt.Errorf("unsupported checkpoint format %q", weights.Version)
	}
	return &weights, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	raw := make([]byte, 8*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return &WeightData{
		Name:  name,
		Shape: append([]int(nil), t.Shape...),
		Data:  EncodeBytes(raw),
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) (*tensor.Tensor, error) {
	raw, err := DecodeBytes(wd.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wd.Name, err)
	}
	t := tensor.New(wd.Shape...)
	if len(raw) != 8*len(t.Data) {
		return nil, fmt.Errorf("%s: %d bytes for shape %v", wd.Name, len(raw), wd.Shape)
	}
	for i := range t.Data {
		t.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	return t, nil
}

// StateDict snapshots params (trainable and buffers) into a checkpoint.
func StateDict(model string, numClasses, epoch int, params []*layers.Param) *ModelWeights {
	w := &ModelWeights{
		Version:    CheckpointFormat,
		Model:      model,
		NumClasses: numClasses,
		Epoch:      epoch,
		Params:     make([]*WeightData, len(params)),
	}
	for i, p := range params {
		w.Params[i] = TensorToWeightData(p.Name, p.Value)
	}
	return w
}

// LoadStateDict copies checkpoint values into params. Every param must be
// present with the same shape; extra entries in the checkpoint are an error.
func LoadStateDict(w *ModelWeights, params []*layers.Param) error {
	byName := make(map[string]*WeightData, len(w.Params))
	for _, wd := range w.Params {
		byName[wd.Name] = wd
	}
	if len(byName) != len(params) {
		return fmt.Errorf("checkpoint has %d entries, model has %d", len(byName), len(params))
	}
	for _, p := range params {
		wd, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint missing %s", p.Name)
		}
		t, err := WeightDataToTensor(wd)
		if err != nil {
			return err
		}
		if !tensor.SameShape(t, p.Value) {
			return fmt.Errorf("%s: checkpoint shape %v, model shape %v", p.Name, t.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, t.Data)
	}
	return nil
}

// EncodeBytes encodes raw bytes to base64 string
func EncodeBytes(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBytes decodes base64 string to raw bytes
func DecodeBytes(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
