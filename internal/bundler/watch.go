package bundler

import (
	"context"
	"path"

	"github.com/conneroisu/hotssr/internal/hmr"
	"github.com/conneroisu/hotssr/internal/watcher"
)

// Watch watches the project root until ctx is done. Every debounced batch
// of changes drops the module caches and notifies HMR clients.
func (s *DevServer) Watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(watcher.Options{
		Root:     s.root,
		Debounce: s.debounce,
		Ignore:   s.ignore,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddHandler(s.handleChanges)

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}
	s.logger.Info(ctx, "Watching for changes", "root", s.root)

	<-ctx.Done()
	return fw.Stop()
}

func (s *DevServer) handleChanges(events []watcher.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.Invalidate()

	paths := make([]string, len(events))
	for i, event := range events {
		paths[i] = event.RelPath
	}
	s.logger.Info(context.Background(), "Files changed", "count", len(events), "paths", paths)

	for _, msg := range messagesFor(events) {
		s.broadcast(msg)
	}

	return nil
}

// messagesFor picks the HMR messages for a batch: one css-update per
// stylesheet when only stylesheets were modified, a single full-reload
// otherwise, including when the watcher dropped events.
func messagesFor(events []watcher.ChangeEvent) []hmr.Message {
	messages := make([]hmr.Message, 0, len(events))

	for _, event := range events {
		if event.Type == watcher.EventTypeOverflow || event.Type == watcher.EventTypeDeleted || path.Ext(event.RelPath) != ".css" {
			return []hmr.Message{{Type: hmr.TypeFullReload}}
		}
		messages = append(messages, hmr.Message{Type: hmr.TypeCSSUpdate, Path: "/" + event.RelPath})
	}

	return messages
}

func (s *DevServer) broadcast(msg hmr.Message) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(msg)
	s.metrics.CountBroadcast(msg.Type)
}
