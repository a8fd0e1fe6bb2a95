package types

import "errors"

// Chunk is one fixed-size window of a file's text
type Chunk struct {
	Index int // Zero-based position within the file
	Start int // Byte offset, inclusive
	End   int // Byte offset, exclusive
	Text  string
}

// Validate checks that the chunk offsets are consistent with its text
func (c *Chunk) Validate() error {
	if c.Index < 0 {
		return errors.New("chunk index cannot be negative")
	}

	if c.Start < 0 || c.End < c.Start {
		return errors.New("invalid chunk offsets")
	}

	if c.End-c.Start != len(c.Text) {
		return errors.New("chunk text does not match offsets")
	}

	return nil
}

// Len returns the chunk length in bytes
func (c *Chunk) Len() int {
	return c.End - c.Start
}
