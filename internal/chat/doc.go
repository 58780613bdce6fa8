// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the conversation store: the state machine that owns every
// chat, the active selection, the settings and the in-flight generation.
//
// Every action derives a new immutable State from the previous one and
// publishes it to subscribers in version order. Streamed replies are appended
// chunk by chunk from a goroutine owned by the Store. At most one generation
// runs at a time; a second one is rejected with ErrBusy.
//
// Usage:
//
//	store, err := chat.New(ctx, chat.Options{Persister: p, Blobs: b, Client: c})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	unsubscribe := store.Subscribe(func(s chat.State) { render(s) })
//	defer unsubscribe()
//
//	store.NewChat()
//	if err := store.SendMessage(ctx, "hello", nil); err != nil {
//	    return err
//	}
//	store.Wait()
package chat
