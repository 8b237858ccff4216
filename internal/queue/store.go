package queue

// store is the ordered list of pending prompt texts. Items carry no
// identity beyond position: duplicates are distinct entries and FIFO
// order is the only priority signal. The in-flight (or failed) item
// stays at index 0 until its submission is confirmed, so readers
// always see it at the front.
type store struct {
	items []string
}

func (s *store) push(text string) {
	s.items = append(s.items, text)
}

func (s *store) peek() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	return s.items[0], true
}

func (s *store) pop() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	head := s.items[0]
	s.items = s.items[1:]
	return head, true
}

func (s *store) removeAt(i int) bool {
	if i < 0 || i >= len(s.items) {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *store) clear() {
	s.items = nil
}

func (s *store) len() int {
	return len(s.items)
}

// snapshot copies the current order so consumers can't mutate the
// queue through the event payload.
func (s *store) snapshot() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}
