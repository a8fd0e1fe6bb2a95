//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"modernc.org/sqlite"
)

// purego builds have no native sqlite-vec, so the subset of its SQL surface
// used by this package is registered as Go scalar functions. The blob format
// and semantics match sqlite-vec, which keeps databases portable between
// the two builds.
const pureGoVecVersion = "v0.1.6-go"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction("vec_version", 0, vecVersion)
	sqlite.MustRegisterDeterministicScalarFunction("vec_f32", 1, vecF32)
	sqlite.MustRegisterDeterministicScalarFunction("vec_length", 1, vecLength)
	sqlite.MustRegisterDeterministicScalarFunction("vec_distance_cosine", 2, vecDistanceCosine)
}

func vecVersion(_ *sqlite.FunctionContext, _ []driver.Value) (driver.Value, error) {
	return pureGoVecVersion, nil
}

// vecArg accepts a float32 blob or a JSON array of numbers
func vecArg(v driver.Value) ([]float32, error) {
	switch val := v.(type) {
	case []byte:
		if len(val)%4 != 0 {
			return nil, fmt.Errorf("invalid float32 vector: blob length %d is not a multiple of 4", len(val))
		}
		return deserializeVector(val), nil
	case string:
		var out []float32
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, fmt.Errorf("invalid JSON vector: %w", err)
		}
		return out, nil
	case nil:
		return nil, errors.New("vector is NULL")
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
}

func vecF32(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	v, err := vecArg(args[0])
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("zero-length vectors are not supported")
	}
	return serializeVector(v), nil
}

func vecLength(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	v, err := vecArg(args[0])
	if err != nil {
		return nil, err
	}
	return int64(len(v)), nil
}

func vecDistanceCosine(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, err := vecArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := vecArg(args[1])
	if err != nil {
		return nil, err
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vector dimensions differ: %d != %d", len(a), len(b))
	}
	return cosineDistance(a, b), nil
}

// cosineDistance returns 1 - cos(a, b). A zero vector is treated as
// orthogonal to everything.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
