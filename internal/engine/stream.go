package engine

import (
	"strings"
)

// separator divides the narrative from the state block in a response.
const separator = "---"

// Chunk is a piece of narrative forwarded while the response streams in.
type Chunk struct {
	Text string
	// Reset tells the receiver to discard every chunk received so far: the
	// text call is being retried and will stream again from the start.
	Reset bool
}

// narrativeStream forwards the narrative section of a streamed response and
// swallows everything from the separator line on. A line is held back only
// while it could still turn out to be the separator, so forwarded text keeps
// the provider's order and content exactly.
type narrativeStream struct {
	emit func(string)

	held      strings.Builder
	lineStart bool
	done      bool
	forwarded bool
}

func newNarrativeStream(emit func(string)) *narrativeStream {
	return &narrativeStream{emit: emit, lineStart: true}
}

func (s *narrativeStream) Write(chunk string) {
	if s.done {
		return
	}
	var out strings.Builder
	for chunk != "" {
		if !s.lineStart {
			// Mid-line: pass through up to and including the next newline.
			i := strings.IndexByte(chunk, '\n')
			if i < 0 {
				out.WriteString(chunk)
				break
			}
			out.WriteString(chunk[:i+1])
			chunk = chunk[i+1:]
			s.lineStart = true
			continue
		}

		// At a line start: hold while the line may be the separator.
		i := strings.IndexByte(chunk, '\n')
		piece := chunk
		if i >= 0 {
			piece = chunk[:i]
		}
		s.held.WriteString(piece)
		line := s.held.String()
		if !maybeSeparator(line) {
			out.WriteString(line)
			s.held.Reset()
			s.lineStart = false
			chunk = chunk[len(piece):]
			continue
		}
		if i < 0 {
			break
		}
		if isSeparator(line) {
			s.done = true
			s.held.Reset()
			break
		}
		// A held prefix such as "--" that ended the line.
		out.WriteString(line + "\n")
		s.held.Reset()
		chunk = chunk[i+1:]
	}
	s.send(out.String())
}

// Close flushes a held line that turned out not to be the separator.
func (s *narrativeStream) Close() {
	if s.done {
		return
	}
	line := s.held.String()
	s.held.Reset()
	if !isSeparator(line) {
		s.send(line)
	}
	s.done = true
}

func (s *narrativeStream) send(text string) {
	if text == "" {
		return
	}
	s.forwarded = true
	s.emit(text)
}

func isSeparator(line string) bool {
	return strings.TrimSpace(line) == separator
}

// maybeSeparator reports whether line could still become the separator once
// more of it arrives.
func maybeSeparator(line string) bool {
	t := strings.TrimLeft(line, " \t")
	if len(t) <= len(separator) {
		return strings.HasPrefix(separator, t)
	}
	return strings.HasPrefix(t, separator) && strings.TrimSpace(t[len(separator):]) == ""
}
