package buf

// List is an intrusive doubly-linked list of frames ordered from most
// recently used (front) to least recently used (back).
type List struct {
	head *Buf
	tail *Buf
	n    uint64
}

func (l *List) Len() uint64 {
	return l.n
}

func (l *List) Front() *Buf {
	return l.head
}

func (l *List) Back() *Buf {
	return l.tail
}

// Next steps towards the LRU end.
func (b *Buf) Next() *Buf {
	return b.next
}

// Prev steps towards the MRU end.
func (b *Buf) Prev() *Buf {
	return b.prev
}

func (l *List) PushFront(b *Buf) {
	if b.prev != nil || b.next != nil || l.head == b {
		panic("PushFront: frame already linked")
	}
	b.next = l.head
	if l.head != nil {
		l.head.prev = b
	} else {
		l.tail = b
	}
	l.head = b
	l.n++
}

func (l *List) Remove(b *Buf) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		if l.head != b {
			panic("Remove: frame not on list")
		}
		l.head = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	} else {
		l.tail = b.prev
	}
	b.prev = nil
	b.next = nil
	l.n--
}

func (l *List) MoveToFront(b *Buf) {
	if l.head == b {
		return
	}
	l.Remove(b)
	l.PushFront(b)
}

// Victim returns the least recently used unpinned frame, or nil if every
// frame is pinned.
func (l *List) Victim() *Buf {
	for b := l.tail; b != nil; b = b.prev {
		if !b.Pinned() {
			return b
		}
	}
	return nil
}
