package gateway

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RestartWatcher detects media gateway restarts and triggers a full
// roster resync, since a restart wipes the gateway's stream table.
//
// Two signals are combined: a watch on the gateway's config file (the
// gateway rewrites it on startup) and a periodic control-plane probe
// that catches the down->up transition when the file watch is
// unavailable.
type RestartWatcher struct {
	ConfigPath string
	Client     *Client
	Resync     func(ctx context.Context)

	// OnDown, when set, fires once per up->down transition.
	OnDown func()

	PollInterval time.Duration
}

func NewRestartWatcher(configPath string, client *Client, resync func(ctx context.Context)) *RestartWatcher {
	return &RestartWatcher{
		ConfigPath:   configPath,
		Client:       client,
		Resync:       resync,
		PollInterval: 15 * time.Second,
	}
}

// Start launches the watcher goroutines. They stop when ctx is done.
func (w *RestartWatcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	useWatch := err == nil && w.ConfigPath != ""
	if err != nil {
		log.Printf("[GW-WATCH] fsnotify unavailable (%v), probe-only mode", err)
	}
	if useWatch {
		if err := watcher.Add(w.ConfigPath); err != nil {
			log.Printf("[GW-WATCH] cannot watch %s (%v), probe-only mode", w.ConfigPath, err)
			useWatch = false
			watcher.Close()
		}
	} else if watcher != nil && w.ConfigPath == "" {
		watcher.Close()
	}

	if useWatch {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						log.Printf("[GW-WATCH] config rewritten, resyncing")
						// Let the gateway finish its own startup write.
						time.Sleep(500 * time.Millisecond)
						w.Resync(ctx)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[GW-WATCH] watch error: %v", err)
				}
			}
		}()
	}

	go w.probeLoop(ctx)
}

func (w *RestartWatcher) probeLoop(ctx context.Context) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	wasDown := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := w.Client.Probe(probeCtx)
			cancel()

			if err != nil {
				if !wasDown {
					log.Printf("[GW-WATCH] gateway unreachable: %v", err)
					if w.OnDown != nil {
						w.OnDown()
					}
				}
				wasDown = true
				continue
			}
			if wasDown {
				log.Printf("[GW-WATCH] gateway back up, resyncing")
				w.Resync(ctx)
			}
			wasDown = false
		}
	}
}
