package llms

import "strings"

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// thinkSplitter separates inline <think>...</think> segments from regular
// content so consumers never see the raw tags. The splitter is stateful: a
// thinking segment may span many deltas, and the open/close markers may
// themselves be split across deltas.
type thinkSplitter struct {
	thinking bool
	pending  string
}

// split processes one content delta and returns the chunks to emit.
func (s *thinkSplitter) split(delta string) []StreamChunk {
	var out []StreamChunk
	content := s.pending + delta
	s.pending = ""

	for content != "" {
		if !s.thinking {
			idx := strings.Index(content, thinkOpenTag)
			if idx >= 0 {
				if idx > 0 {
					out = append(out, StreamChunk{Type: ChunkContent, Text: content[:idx]})
				}
				content = content[idx+len(thinkOpenTag):]
				s.thinking = true
				continue
			}
			emit, hold := holdTagPrefix(content, thinkOpenTag)
			if emit != "" {
				out = append(out, StreamChunk{Type: ChunkContent, Text: emit})
			}
			s.pending = hold
			content = ""
		} else {
			idx := strings.Index(content, thinkCloseTag)
			if idx >= 0 {
				if idx > 0 {
					out = append(out, StreamChunk{Type: ChunkThinking, Text: content[:idx]})
				}
				content = content[idx+len(thinkCloseTag):]
				s.thinking = false
				continue
			}
			emit, hold := holdTagPrefix(content, thinkCloseTag)
			if emit != "" {
				out = append(out, StreamChunk{Type: ChunkThinking, Text: emit})
			}
			s.pending = hold
			content = ""
		}
	}
	return out
}

// flush drains any held partial-tag suffix at end of stream.
func (s *thinkSplitter) flush() []StreamChunk {
	if s.pending == "" {
		return nil
	}
	typ := ChunkContent
	if s.thinking {
		typ = ChunkThinking
	}
	chunk := StreamChunk{Type: typ, Text: s.pending}
	s.pending = ""
	return []StreamChunk{chunk}
}

// holdTagPrefix splits text so a trailing prefix of tag is withheld until the
// next delta can disambiguate it.
func holdTagPrefix(text, tag string) (emit, hold string) {
	max := len(tag) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return text[:len(text)-n], text[len(text)-n:]
		}
	}
	return text, ""
}
