// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/minigem/internal/blob"
	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/model"
)

// =============================================================================
// PERSISTER
// =============================================================================

type memPersister struct {
	mu       sync.Mutex
	chats    []model.Chat
	activeID string
	settings *model.Settings
	saves    int
	loadErr  error
	saveErr  error
	cleared  bool
}

func (p *memPersister) LoadConversations(ctx context.Context) ([]model.Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return p.chats, nil
}

func (p *memPersister) SaveConversations(ctx context.Context, chats []model.Chat) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saves++
	p.chats = make([]model.Chat, len(chats))
	for i, c := range chats {
		p.chats[i] = c.Clone()
	}
	return nil
}

func (p *memPersister) LoadActiveID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeID, p.loadErr
}

func (p *memPersister) SaveActiveID(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.activeID = id
	return nil
}

func (p *memPersister) LoadSettings(ctx context.Context) (model.Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return model.Settings{}, p.loadErr
	}
	if p.settings == nil {
		return model.DefaultSettings(), nil
	}
	return p.settings.Clone(), nil
}

func (p *memPersister) SaveSettings(ctx context.Context, s model.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	c := s.Clone()
	p.settings = &c
	return nil
}

func (p *memPersister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats, p.activeID, p.settings, p.cleared = nil, "", nil, true
	return nil
}

func (p *memPersister) saved() []model.Chat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chats
}

// =============================================================================
// BLOBS
// =============================================================================

type memBlobs struct {
	mu         sync.Mutex
	data       map[string]blob.Blob
	deleted    []string
	failDelete error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[string]blob.Blob)}
}

func (b *memBlobs) add(id, name, typ string, data []byte) model.AttachmentRef {
	b.mu.Lock()
	defer b.mu.Unlock()
	bl := blob.Blob{ID: id, Name: name, Type: typ, Size: int64(len(data)), Data: data}
	b.data[id] = bl
	return bl.Ref()
}

func (b *memBlobs) Put(ctx context.Context, bl blob.Blob) (model.AttachmentRef, error) {
	if bl.ID == "" {
		bl.ID = model.NewID()
	}
	return b.add(bl.ID, bl.Name, bl.Type, bl.Data), nil
}

func (b *memBlobs) Get(ctx context.Context, id string) (*blob.Blob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bl, ok := b.data[id]
	if !ok {
		return nil, nil
	}
	return &bl, nil
}

func (b *memBlobs) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	if b.failDelete != nil {
		return b.failDelete
	}
	delete(b.data, id)
	return nil
}

func (b *memBlobs) deletes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

// =============================================================================
// GENERATION CLIENT
// =============================================================================

// gate is a client whose stream the test drives chunk by chunk.
type gate struct {
	reqs   chan genai.Request
	chunks chan genai.Chunk
}

func newGate() *gate {
	return &gate{reqs: make(chan genai.Request, 8), chunks: make(chan genai.Chunk)}
}

func (g *gate) GenerateStream(ctx context.Context, req genai.Request) (<-chan genai.Chunk, error) {
	g.reqs <- req
	out := make(chan genai.Chunk)
	go func() {
		defer close(out)
		for {
			select {
			case c, ok := <-g.chunks:
				if !ok {
					return
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *gate) send(t *testing.T, text string) {
	t.Helper()
	select {
	case g.chunks <- genai.Chunk{Text: text}:
	case <-time.After(5 * time.Second):
		t.Fatal("stream consumer did not take chunk")
	}
}

// fail ends the stream with err.
func (g *gate) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case g.chunks <- genai.Chunk{Err: err}:
	case <-time.After(5 * time.Second):
		t.Fatal("stream consumer did not take error")
	}
}

func (g *gate) request(t *testing.T) genai.Request {
	t.Helper()
	select {
	case r := <-g.reqs:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no generation request")
		return genai.Request{}
	}
}

// scripted returns a client that streams chunks and then fails with err, if set.
func scripted(err error, chunks ...string) genai.Client {
	return genai.ClientFunc(func(ctx context.Context, req genai.Request) (<-chan genai.Chunk, error) {
		return genai.Stream(ctx, func(emit genai.Emit) error {
			for _, c := range chunks {
				if err := emit(c); err != nil {
					return err
				}
			}
			return err
		}), nil
	})
}

// failing returns a client that never starts a stream.
func failing(err error) genai.Client {
	return genai.ClientFunc(func(ctx context.Context, req genai.Request) (<-chan genai.Chunk, error) {
		return nil, err
	})
}

var errBoom = errors.New("boom")

// =============================================================================
// FIXTURES
// =============================================================================

func newTestStore(t *testing.T, p *memPersister, b *memBlobs, c genai.Client) *Store {
	t.Helper()
	if p == nil {
		p = &memPersister{}
	}
	if b == nil {
		b = newMemBlobs()
	}
	s, err := New(context.Background(), Options{Persister: p, Blobs: b, Client: c})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id string, role model.Role, content string, refs ...model.AttachmentRef) model.Message {
	return model.Message{
		ID:          id,
		Role:        role,
		Content:     content,
		Timestamp:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Attachments: refs,
	}
}

func seededChat(id string, msgs ...model.Message) model.Chat {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.Chat{ID: id, Title: "Seed " + id, Messages: msgs, CreatedAt: ts, UpdatedAt: ts}
}
