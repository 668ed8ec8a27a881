package capture

import "github.com/and161185/alertme/internal/model"

// Match looks for a registered combination that is a suffix of the buffer.
//
// Buffers shorter than model.MinSequenceLen never match. When several candidates
// are suffixes of the buffer, the longest one wins and equal lengths fall back to
// the lexicographically smallest id, so the result does not depend on registry order.
// A match resets the buffer; a miss leaves it untouched.
func Match(buf *Buffer, combos []model.Combination) (model.Combination, bool) {
	seq := buf.view()
	if len(seq) < model.MinSequenceLen {
		return model.Combination{}, false
	}

	best := -1
	for i := range combos {
		c := &combos[i]
		n := len(c.Sequence)
		if n < model.MinSequenceLen || n > len(seq) {
			continue
		}
		if !seq.HasSuffix(c.Sequence) {
			continue
		}
		if best < 0 || better(c, &combos[best]) {
			best = i
		}
	}
	if best < 0 {
		return model.Combination{}, false
	}

	buf.Reset()
	return combos[best], true
}

func better(c, cur *model.Combination) bool {
	if len(c.Sequence) != len(cur.Sequence) {
		return len(c.Sequence) > len(cur.Sequence)
	}
	return c.ID < cur.ID
}
