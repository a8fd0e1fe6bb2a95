// Package chunker splits file content into overlapping fixed-size windows
// and detects the language of a path.
//
// Windows are addressed by index alone. Chunk i starts at byte
// i*(size-overlap) and runs for size bytes, clipped to the end of the text:
//
//	c := chunker.New(800, 100)
//	for _, ch := range c.Split(content) {
//	    // ch.Index, ch.Start, ch.End, ch.Text
//	}
//
// Because the arithmetic is deterministic, chunk text does not need to be
// stored; Text(content, i) recovers window i from the live file.
//
// Offsets are byte offsets. A window may end in the middle of a multi-byte
// UTF-8 sequence; embedding providers accept such text and the round trip
// through Text is still exact.
package chunker
