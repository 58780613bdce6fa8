// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/minigem/internal/blob"
	"github.com/jeranaias/minigem/internal/genai"
	"github.com/jeranaias/minigem/internal/logging"
	"github.com/jeranaias/minigem/internal/model"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Persister is durable storage for chats, the active pointer and settings.
type Persister interface {
	LoadConversations(ctx context.Context) ([]model.Chat, error)
	SaveConversations(ctx context.Context, chats []model.Chat) error
	LoadActiveID(ctx context.Context) (string, error)
	SaveActiveID(ctx context.Context, id string) error
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	Clear(ctx context.Context) error
}

// BlobStore holds attachment bytes outside the conversation state.
// Get returns (nil, nil) for a missing blob and Delete is idempotent.
type BlobStore interface {
	Put(ctx context.Context, b blob.Blob) (model.AttachmentRef, error)
	Get(ctx context.Context, id string) (*blob.Blob, error)
	Delete(ctx context.Context, id string) error
}

// blobClearer is implemented by blob stores that can drop everything at once.
type blobClearer interface {
	Clear(ctx context.Context) error
}

// Options configures a Store.
type Options struct {
	Persister Persister
	Blobs     BlobStore
	Client    genai.Client
	Logger    *slog.Logger

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store owns the conversation state. All methods are safe for concurrent use.
type Store struct {
	// mu guards everything below it. emitMu orders publication: it is taken
	// while mu is held and released after subscribers have run.
	mu      sync.Mutex
	emitMu  sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
	genDone chan struct{} // closed when the in-flight generation ends
	closed  bool

	persist Persister
	blobs   BlobStore
	client  genai.Client
	logger  *slog.Logger
	now     func() time.Time

	// ctx lives as long as the store; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New loads the persisted state and returns a ready store. Load failures are
// logged and the store starts from defaults for the part that failed.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Persister == nil {
		return nil, errors.New("chat: Persister is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("chat: Blobs is required")
	}
	if opts.Client == nil {
		return nil, errors.New("chat: Client is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		subs:    make(map[int]func(State)),
		persist: opts.Persister,
		blobs:   opts.Blobs,
		client:  opts.Client,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = s.load(ctx)
	return s, nil
}

func (s *Store) load(ctx context.Context) State {
	st := State{Settings: model.DefaultSettings()}

	chats, err := s.persist.LoadConversations(ctx)
	if err != nil {
		s.logger.Error("failed to load conversations, starting empty", "error", err)
	}
	st.Chats = persistable(chats)
	for _, c := range st.Chats {
		model.ObserveID(c.ID)
		for _, m := range c.Messages {
			model.ObserveID(m.ID)
		}
	}

	settings, err := s.persist.LoadSettings(ctx)
	if err != nil {
		s.logger.Error("failed to load settings, using defaults", "error", err)
	} else {
		st.Settings = settings
	}

	active, err := s.persist.LoadActiveID(ctx)
	if err != nil {
		s.logger.Error("failed to load active chat", "error", err)
	}
	if _, _, ok := st.Chat(active); ok {
		st.ActiveID = active
	} else if len(st.Chats) > 0 {
		st.ActiveID = st.Chats[0].ID
	}

	s.logger.Debug("store loaded", "chats", len(st.Chats), "active", st.ActiveID, "model", st.Settings.SelectedModel)
	return st
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every published state in version order.
// fn runs synchronously on the publishing goroutine and must not call back
// into the Store. The returned func unregisters it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// commitAndUnlock installs next as the current state, releases mu and
// publishes next. The caller must hold mu.
func (s *Store) commitAndUnlock(next State) {
	next.Version = s.state.Version + 1
	s.state = next
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}

	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}

// lockOpen takes mu unless the store is closed.
func (s *Store) lockOpen() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// saveChats persists the non-empty chats of st.
func (s *Store) saveChats(ctx context.Context, st State) error {
	if err := s.persist.SaveConversations(ctx, persistable(st.Chats)); err != nil {
		s.logger.Error("failed to save conversations", "error", err)
		return err
	}
	return nil
}

func (s *Store) saveActive(ctx context.Context, st State) error {
	if err := s.persist.SaveActiveID(ctx, st.ActiveID); err != nil {
		s.logger.Error("failed to save active chat", "error", err)
		return err
	}
	return nil
}

// Wait blocks until the in-flight generation, if any, has finished.
func (s *Store) Wait() {
	s.mu.Lock()
	done := s.genDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels the in-flight generation and waits for it. Later actions
// return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.Wait()
	return nil
}

// =============================================================================
// CHAT SELECTION
// =============================================================================

// NewChat puts an empty chat first and makes it active. It is not persisted
// until it receives a message.
func (s *Store) NewChat() (string, error) {
	if err := s.lockOpen(); err != nil {
		return "", err
	}
	c := model.NewChat(s.now())
	next := s.state
	next.Chats = prependChat(next.Chats, c)
	next.ActiveID = c.ID
	s.commitAndUnlock(next)
	return c.ID, nil
}

// SelectChat makes the chat with the given ID active.
func (s *Store) SelectChat(ctx context.Context, id string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	if _, _, ok := s.state.Chat(id); !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	next := s.state
	next.ActiveID = id
	if err := s.saveActive(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.commitAndUnlock(next)
	return nil
}

// RenameChat sets a chat's title.
func (s *Store) RenameChat(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if err := s.lockOpen(); err != nil {
		return err
	}
	c, i, ok := s.state.Chat(id)
	if !ok {
		s.mu.Unlock()
		return ErrChatNotFound
	}
	c.Title = title
	c.UpdatedAt = s.now()
	next := s.state
	next.Chats = replaceChat(next.Chats, i, c)
	if err := s.saveChats(ctx, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.commitAndUnlock(next)
	return nil
}

// ClearError clears the last generation error.
func (s *Store) ClearError() {
	s.mu.Lock()
	if s.state.Err == "" {
		s.mu.Unlock()
		return
	}
	next := s.state
	next.Err = ""
	s.commitAndUnlock(next)
}

// ClearAllData deletes every chat, blob and setting.
func (s *Store) ClearAllData(ctx context.Context) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	if s.state.Busy {
		s.mu.Unlock()
		return ErrBusy
	}

	if err := s.persist.Clear(ctx); err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to clear storage", "error", err)
		return err
	}
	if bc, ok := s.blobs.(blobClearer); ok {
		if err := bc.Clear(ctx); err != nil {
			s.logger.Warn("failed to clear attachments", "error", err)
		}
	} else {
		var refs []model.AttachmentRef
		for _, c := range s.state.Chats {
			refs = append(refs, c.AttachmentRefs()...)
		}
		s.deleteBlobs(ctx, refs)
	}

	s.logger.Info("all data cleared", "chats", len(s.state.Chats))
	s.commitAndUnlock(State{Settings: model.DefaultSettings()})
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// updateSettings applies fn to a copy of the settings, persists and publishes.
func (s *Store) updateSettings(ctx context.Context, fn func(*model.Settings) error) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	settings := s.state.Settings.Clone()
	if err := fn(&settings); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.persist.SaveSettings(ctx, settings); err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to save settings", "error", err)
		return err
	}
	next := s.state
	next.Settings = settings
	s.commitAndUnlock(next)
	return nil
}

// SetAPIKey stores the API credential.
func (s *Store) SetAPIKey(ctx context.Context, key string) error {
	return s.updateSettings(ctx, func(st *model.Settings) error {
		st.APIKey = strings.TrimSpace(key)
		return nil
	})
}

// SetModel selects a model and re-derives the preset for its tier.
func (s *Store) SetModel(ctx context.Context, modelID string) error {
	return s.updateSettings(ctx, func(st *model.Settings) error {
		if _, ok := model.LookupModel(modelID); !ok {
			return ErrUnknownModel
		}
		st.SelectedModel = modelID
		st.SyncPreset()
		return nil
	})
}

// SetThinkingBudget sets the tier used for a model.
func (s *Store) SetThinkingBudget(ctx context.Context, modelID string, tier model.Tier) error {
	return s.updateSettings(ctx, func(st *model.Settings) error {
		m, ok := model.LookupModel(modelID)
		if !ok {
			return ErrUnknownModel
		}
		if !m.SupportsTier(tier) {
			return ErrInvalidTier
		}
		st.ThinkingBudgets[modelID] = tier
		st.SyncPreset()
		return nil
	})
}

// SetTemperature sets the sampling temperature.
func (s *Store) SetTemperature(ctx context.Context, t float64) error {
	return s.updateSettings(ctx, func(st *model.Settings) error {
		if !validTemperature(t) {
			return ErrInvalidTemperature
		}
		st.Temperature = t
		st.SyncPreset()
		return nil
	})
}

// SetSettingsMode switches between the simple and simplest controls.
func (s *Store) SetSettingsMode(ctx context.Context, mode model.SettingsMode) error {
	return s.updateSettings(ctx, func(st *model.Settings) error {
		if !mode.Valid() {
			return ErrInvalidMode
		}
		st.SettingsMode = mode
		return nil
	})
}

// SetResponseStyle applies a preset: the selected model's tier and the
// temperature change together.
func (s *Store) SetResponseStyle(ctx context.Context, style model.ResponseStyle) error {
	return s.updateSettings(ctx, func(st *model.Settings) error {
		p, ok := model.LookupPreset(style)
		if !ok {
			return ErrUnknownStyle
		}
		m, _ := model.LookupModel(st.SelectedModel)
		if !m.SupportsTier(p.Tier) {
			return ErrInvalidTier
		}
		st.ThinkingBudgets[st.SelectedModel] = p.Tier
		st.Temperature = p.Temperature
		st.ResponseStyle = p.Style
		return nil
	})
}

func validTemperature(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 2
}

// validateParams checks a generation triple chosen for a retry.
func validateParams(p model.GenerationParams) error {
	m, ok := model.LookupModel(p.Model)
	if !ok {
		return ErrUnknownModel
	}
	if !p.Tier.Valid() || !m.SupportsTier(p.Tier) {
		return ErrInvalidTier
	}
	if !validTemperature(p.Temperature) {
		return ErrInvalidTemperature
	}
	return nil
}
