package credstore

// MemoryStore keeps the session in process memory. It is used by tests and by
// processes that should not touch the user's session file.
type MemoryStore struct {
	sessionStore
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{}
	s.init(&memoryBackend{}, opts)
	return s
}

// memoryBackend is guarded by the owning sessionStore's mutex.
type memoryBackend struct {
	session *StoredSession
	pending *PendingAuthorization
}

func (b *memoryBackend) name() string { return "memory" }

func (b *memoryBackend) readSession() (*StoredSession, error) {
	if b.session == nil {
		return nil, ErrNoSession
	}
	c := *b.session
	return &c, nil
}

func (b *memoryBackend) writeSession(s *StoredSession) error {
	c := *s
	b.session = &c
	return nil
}

func (b *memoryBackend) removeSession() error {
	b.session = nil
	return nil
}

func (b *memoryBackend) readPending() (*PendingAuthorization, error) {
	if b.pending == nil {
		return nil, ErrNoPending
	}
	c := *b.pending
	return &c, nil
}

func (b *memoryBackend) writePending(p *PendingAuthorization) error {
	c := *p
	b.pending = &c
	return nil
}

func (b *memoryBackend) removePending() error {
	b.pending = nil
	return nil
}
