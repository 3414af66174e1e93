package convert

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeSteps produces the converter's instruction wire: a msgpack array of
// field-ordered maps. Field order is fixed so encodings are byte-stable.
func EncodeSteps(steps []SwapStep) ([]byte, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyInstructions
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(len(steps)); err != nil {
		return nil, err
	}
	for _, step := range steps {
		if err := encodeStep(enc, step); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeStep(enc *msgpack.Encoder, step SwapStep) error {
	if err := enc.EncodeMapLen(4); err != nil {
		return err
	}
	if err := enc.EncodeString("in"); err != nil {
		return err
	}
	if err := enc.EncodeBytes(step.TokenIn.Bytes()); err != nil {
		return err
	}
	if err := enc.EncodeString("out"); err != nil {
		return err
	}
	if err := enc.EncodeBytes(step.TokenOut.Bytes()); err != nil {
		return err
	}
	if err := enc.EncodeString("pool"); err != nil {
		return err
	}
	if err := enc.EncodeBytes(step.Pool.Bytes()); err != nil {
		return err
	}
	if err := enc.EncodeString("dest"); err != nil {
		return err
	}
	return enc.EncodeBytes(step.Destination.Bytes())
}

// DecodeSteps parses the instruction wire back into steps.
func DecodeSteps(data []byte) ([]SwapStep, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInstructions
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if n <= 0 {
		return nil, ErrEmptyInstructions
	}
	steps := make([]SwapStep, 0, n)
	for i := 0; i < n; i++ {
		step, err := decodeStep(dec)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeStep(dec *msgpack.Decoder) (SwapStep, error) {
	var step SwapStep
	fields, err := dec.DecodeMapLen()
	if err != nil {
		return step, err
	}
	for i := 0; i < fields; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return step, err
		}
		raw, err := dec.DecodeBytes()
		if err != nil {
			return step, err
		}
		if len(raw) != 20 {
			return step, fmt.Errorf("field %q: address must be 20 bytes, got %d", key, len(raw))
		}
		switch key {
		case "in":
			step.TokenIn.SetBytes(raw)
		case "out":
			step.TokenOut.SetBytes(raw)
		case "pool":
			step.Pool.SetBytes(raw)
		case "dest":
			step.Destination.SetBytes(raw)
		default:
			return step, fmt.Errorf("unknown field %q", key)
		}
	}
	return step, nil
}
