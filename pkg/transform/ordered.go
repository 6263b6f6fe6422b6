package transform

// orderedSet keeps strings in first-insertion order.
type orderedSet struct {
	keys  []string
	index map[string]int
}

func newOrderedSet() *orderedSet {
	return &orderedSet{index: make(map[string]int)}
}

// add records k if unseen. It returns the position of k and whether it was new.
func (s *orderedSet) add(k string) (int, bool) {
	if pos, ok := s.index[k]; ok {
		return pos, false
	}
	s.index[k] = len(s.keys)
	s.keys = append(s.keys, k)
	return len(s.keys) - 1, true
}

func (s *orderedSet) indexOf(k string) (int, bool) {
	pos, ok := s.index[k]
	return pos, ok
}

func (s *orderedSet) len() int {
	return len(s.keys)
}
