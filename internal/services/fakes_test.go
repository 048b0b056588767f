package services

import (
	"context"
	"sync"

	"imagevault/internal/gateway"
)

type fakeModel struct {
	mu         sync.Mutex
	notReady   bool
	dims       int
	imageVec   []float32
	textVec    []float32
	imageErr   error
	textErr    error
	imageCalls int
	textCalls  int

	// onEmbedImage runs outside the lock, lets tests block an in-flight pass.
	onEmbedImage func()
}

func newFakeModel(dims int) *fakeModel {
	return &fakeModel{dims: dims}
}

func (m *fakeModel) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	m.mu.Lock()
	m.imageCalls++
	hook := m.onEmbedImage
	err := m.imageErr
	vec := m.imageVec
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if vec != nil {
		return vec, nil
	}
	out := make([]float32, m.dims)
	out[0] = 1
	return out, nil
}

func (m *fakeModel) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textCalls++
	if m.textErr != nil {
		return nil, m.textErr
	}
	if m.textVec != nil {
		return m.textVec, nil
	}
	out := make([]float32, m.dims)
	out[0] = 1
	return out, nil
}

func (m *fakeModel) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.notReady
}

func (m *fakeModel) Dimensions() int { return m.dims }

func (m *fakeModel) ImageCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imageCalls
}

func (m *fakeModel) TextCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls
}

type fakeIndex struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	payloads map[string]gateway.Payload

	upsertErr  error
	payloadErr error
	deleteErr  error
	healthErr  error
	searchErr  error
	countErr   error

	matches []gateway.Match
	lastK   int

	countOverride *uint64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		vectors:  make(map[string][]float32),
		payloads: make(map[string]gateway.Payload),
	}
}

func (f *fakeIndex) Upsert(ctx context.Context, externalID string, vector []float32, payload gateway.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.vectors[externalID] = vector
	f.payloads[externalID] = payload
	return nil
}

func (f *fakeIndex) SetPayload(ctx context.Context, externalID string, payload gateway.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloadErr != nil {
		return f.payloadErr
	}
	f.payloads[externalID] = payload
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.vectors, externalID)
	delete(f.payloads, externalID)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, k int) ([]gateway.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeIndex) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeIndex) PointCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.countOverride != nil {
		return *f.countOverride, nil
	}
	return uint64(len(f.vectors)), nil
}

func (f *fakeIndex) Has(externalID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vectors[externalID]
	return ok
}

func (f *fakeIndex) PayloadOf(externalID string) gateway.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[externalID]
}

type fakeBlobs struct {
	mu      sync.Mutex
	files   map[string][]byte
	readErr error
	removed []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: make(map[string][]byte)}
}

func (b *fakeBlobs) Save(filename string, data []byte) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[filename] = data
	return filename, "/uploads/" + filename, nil
}

func (b *fakeBlobs) Read(path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	if data, ok := b.files[path]; ok {
		return data, nil
	}
	return []byte("image-bytes"), nil
}

func (b *fakeBlobs) Remove(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, path)
	return nil
}
