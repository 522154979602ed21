package segment

// Stream segments text that arrives in deltas. It keeps only the unconfirmed
// remainder between calls, so a sentence is never returned twice.
type Stream struct {
	seg     *Segmenter
	pending string
}

// NewStream creates a Stream backed by a Segmenter built from opts.
func NewStream(opts ...Option) *Stream {
	return &Stream{seg: New(opts...)}
}

// Push appends delta and returns the sentences it completed.
func (s *Stream) Push(delta string) []string {
	if delta == "" {
		return nil
	}
	res := s.seg.Segment(s.pending + delta)
	s.pending = res.Remainder
	return res.Sentences
}

// Flush ends the stream: the remainder becomes the final sentence if it holds
// anything speakable. The stream is empty afterwards and may be reused.
func (s *Stream) Flush() []string {
	last, ok := s.seg.Flush(s.pending)
	s.pending = ""
	if !ok {
		return nil
	}
	return []string{last}
}

// Pending returns the text held back for the next Push.
func (s *Stream) Pending() string {
	return s.pending
}
